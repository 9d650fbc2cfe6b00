package scanbridge

import (
	"context"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aymurapp/scanbridge/internal/scanwire"
)

const rpcQueueDepth = 256

// handleWebSocket upgrades a shell connection, subscribes it to capture
// events and pumps its requests until it goes away. Everything the shell
// registered is torn down with the connection.
func handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		wsLogger.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	connectionID := uuid.NewString()
	l := wsLogger.With().Str("connectionID", connectionID).Logger()
	ctx := c.Request.Context()

	defer func() {
		GetEventBroadcaster().Unsubscribe(connectionID)
		fields.ReleaseOwnedBy(connectionID)
		_ = conn.CloseNow()
		l.Info().Msg("shell disconnected")
	}()

	GetEventBroadcaster().Subscribe(connectionID, conn, ctx, &l)
	l.Info().Str("remote", c.Request.RemoteAddr).Msg("shell connected")

	runRPCReadLoop(ctx, conn, connectionID, &l)
}

// runRPCReadLoop reads frames and fans them into per-queue workers, so a
// slow camera answer never delays a keystroke burst. One worker per queue
// keeps ordering within a queue, which the classifier depends on.
func runRPCReadLoop(ctx context.Context, conn *websocket.Conn, connectionID string, l *zerolog.Logger) {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var queues [scanwire.QueueCount]chan *scanwire.Request
	for i := range queues {
		queues[i] = make(chan *scanwire.Request, rpcQueueDepth)
		go func(ch chan *scanwire.Request) {
			for {
				select {
				case <-workerCtx.Done():
					return
				case req := <-ch:
					onRPCRequest(workerCtx, conn, connectionID, req)
				}
			}
		}(queues[i])
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			l.Debug().Err(err).Msg("websocket read ended")
			return
		}

		req := &scanwire.Request{}
		if err := scanwire.Unmarshal(data, req); err != nil {
			l.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		idx := scanwire.GetQueueIndex(req.Method)
		select {
		case queues[idx] <- req:
		default:
			l.Warn().Str("method", string(req.Method)).Int("queue", idx).Msg("rpc queue full, dropping request")
		}
	}
}
