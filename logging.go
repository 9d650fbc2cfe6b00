package scanbridge

import (
	"github.com/aymurapp/scanbridge/internal/logging"
)

var (
	logger        = logging.GetSubsystemLogger("daemon")
	scanLogger    = logging.GetSubsystemLogger("scan")
	wsLogger      = logging.GetSubsystemLogger("websocket")
	webLogger     = logging.GetSubsystemLogger("web")
	webrtcLogger  = logging.GetSubsystemLogger("webrtc")
	webhookLogger = logging.GetSubsystemLogger("webhook")
)
