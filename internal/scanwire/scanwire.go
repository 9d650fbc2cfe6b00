// Package scanwire defines the JSON wire protocol spoken between the
// scanbridge daemon and the browser shells attached to it. Shells send
// Request frames (keystrokes, field snapshots, camera answers) and receive
// Envelope frames (scan events, state changes, control commands).
package scanwire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aymurapp/scanbridge/internal/scan"
)

// Version of the scanwire protocol, echoed in every ping result.
const Version = 1

// Method is the name of an inbound shell request.
type Method string

const (
	MethodPing          Method = "ping"
	MethodKeyEvent      Method = "keyEvent"
	MethodFieldRegister Method = "fieldRegister"
	MethodFieldRelease  Method = "fieldRelease"
	MethodFieldInput    Method = "fieldInput"
	MethodFieldKey      Method = "fieldKey"
	MethodCameraError   Method = "cameraError"
	MethodDeviceList    Method = "deviceList"
)

// Outbound envelope types. Events describe something that happened;
// commands ask the shell to do something.
const (
	EventScan                 = "scan"
	EventScannerStateChanged  = "scanner-state-changed"
	EventCaptureConfigChanged = "capture-config-changed"
	EventCaptureMetricsUpdate = "capture-metrics-update"

	CommandCameraRequest = "camera-request"
	CommandCameraStop    = "camera-stop"
	CommandFieldControl  = "field-control"
)

// Queue indices for inbound dispatch. Key events arrive in machine-speed
// bursts and must never sit behind a slow camera round trip.
const (
	HandshakeQueue int = 0
	KeyboardQueue  int = 1
	FieldQueue     int = 2
	CameraQueue    int = 3
	OtherQueue     int = 4

	QueueCount = 5
)

// GetQueueIndex returns the index of the queue to which the request should
// be enqueued.
func GetQueueIndex(method Method) int {
	switch method {
	case MethodPing:
		return HandshakeQueue
	case MethodKeyEvent:
		return KeyboardQueue
	case MethodFieldRegister, MethodFieldRelease, MethodFieldInput, MethodFieldKey:
		return FieldQueue
	case MethodCameraError, MethodDeviceList:
		return CameraQueue
	default:
		return OtherQueue
	}
}

// Request is one inbound frame from a shell. ID is set when the shell
// expects a Response.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Method Method          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request that carried an ID.
type Response struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error is the failure half of a Response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("scanwire error %d: %s", e.Code, e.Message)
}

// Response error codes.
const (
	ErrorCodeParse          = -32700
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternal       = -32603
)

// Envelope is one outbound frame to a shell.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Unmarshal parses one inbound frame into req.
func Unmarshal(data []byte, req *Request) error {
	if len(data) == 0 {
		return fmt.Errorf("invalid data length: %d", len(data))
	}
	if err := json.Unmarshal(data, req); err != nil {
		return fmt.Errorf("malformed request frame: %w", err)
	}
	if req.Method == "" {
		return errors.New("missing method")
	}
	return nil
}

// Marshal serializes an inbound frame, for shells and test harnesses.
func Marshal(req *Request) ([]byte, error) {
	if req.Method == "" {
		return nil, errors.New("missing method")
	}
	return json.Marshal(req)
}

// NewResponse answers the request id with a result.
func NewResponse(id string, result any) *Response {
	return &Response{ID: id, Result: result}
}

// NewErrorResponse answers the request id with a failure.
func NewErrorResponse(id string, code int, message string) *Response {
	return &Response{ID: id, Error: &Error{Code: code, Message: message}}
}

// KeyEventParams carries one global keydown observation from the shell.
type KeyEventParams struct {
	Key         string `json:"key"`
	Code        string `json:"code,omitempty"`
	Ctrl        bool   `json:"ctrlKey,omitempty"`
	Alt         bool   `json:"altKey,omitempty"`
	Meta        bool   `json:"metaKey,omitempty"`
	TextEntry   bool   `json:"textEntry,omitempty"`
	ScanCapture bool   `json:"scanCapture,omitempty"`
}

// KeyEvent converts the wire params into a classifier key event.
func (p KeyEventParams) KeyEvent() scan.KeyEvent {
	return scan.KeyEvent{
		Key:  p.Key,
		Code: p.Code,
		Ctrl: p.Ctrl,
		Alt:  p.Alt,
		Meta: p.Meta,
		Target: scan.KeyTarget{
			TextEntry:   p.TextEntry,
			ScanCapture: p.ScanCapture,
		},
	}
}

// FieldRegisterParams attaches a capture adapter to a shell input field.
type FieldRegisterParams struct {
	FieldID     string `json:"fieldId"`
	ClearOnScan *bool  `json:"clearOnScan,omitempty"`
}

// FieldReleaseParams detaches a previously registered field.
type FieldReleaseParams struct {
	FieldID string `json:"fieldId"`
}

// FieldInputParams is a full value snapshot of a registered field.
type FieldInputParams struct {
	FieldID string `json:"fieldId"`
	Value   string `json:"value"`
}

// FieldKeyParams is a control key observed inside a registered field.
type FieldKeyParams struct {
	FieldID string `json:"fieldId"`
	Key     string `json:"key"`
}

// CameraErrorParams reports a failed camera-request. Name carries the
// DOMException name from the shell, "NotAllowedError" for permission
// refusals.
type CameraErrorParams struct {
	RequestID string `json:"requestId"`
	Name      string `json:"name"`
	Message   string `json:"message,omitempty"`
}

// DeviceInfo describes one camera the shell can open.
type DeviceInfo struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Facing string `json:"facing,omitempty"`
}

// DeviceListParams announces the shell's camera inventory, pushed on
// connect and on devicechange.
type DeviceListParams struct {
	Devices []DeviceInfo `json:"devices"`
}

// PingResult is the payload answering a ping.
type PingResult struct {
	Version   int    `json:"version"`
	StationID string `json:"stationId,omitempty"`
}

// ScanData is the payload of a scan event.
type ScanData struct {
	Value      string `json:"value"`
	Source     string `json:"source"`
	ObservedAt int64  `json:"observedAt"`
}

// ScannerStateData is the payload of a scanner-state-changed event.
type ScannerStateData struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// CameraRequestData asks the shell to open a camera and stream it back.
type CameraRequestData struct {
	RequestID       string `json:"requestId"`
	DeviceID        string `json:"deviceId,omitempty"`
	Facing          string `json:"facing,omitempty"`
	FramesPerSecond int    `json:"framesPerSecond,omitempty"`
}

// FieldControlData asks the shell to act on a registered field.
type FieldControlData struct {
	FieldID string `json:"fieldId"`
	Op      string `json:"op"`
	Value   string `json:"value,omitempty"`
}

// NewScanEvent wraps an accepted scan for broadcast.
func NewScanEvent(ev scan.ScanEvent) Envelope {
	return Envelope{
		Type: EventScan,
		Data: ScanData{
			Value:      ev.Value,
			Source:     string(ev.Source),
			ObservedAt: ev.ObservedAt.UnixMilli(),
		},
	}
}

// NewScannerStateEvent wraps an optical session state change.
func NewScannerStateEvent(state string, errMessage string) Envelope {
	return Envelope{
		Type: EventScannerStateChanged,
		Data: ScannerStateData{State: state, Error: errMessage},
	}
}

// NewFieldControlCommand wraps a field control op for the shell.
func NewFieldControlCommand(fieldID, op, value string) Envelope {
	return Envelope{
		Type: CommandFieldControl,
		Data: FieldControlData{FieldID: fieldID, Op: op, Value: value},
	}
}

// NewCameraRequestCommand asks the shell to start streaming a camera.
func NewCameraRequestCommand(requestID, deviceID, facing string, fps int) Envelope {
	return Envelope{
		Type: CommandCameraRequest,
		Data: CameraRequestData{
			RequestID:       requestID,
			DeviceID:        deviceID,
			Facing:          facing,
			FramesPerSecond: fps,
		},
	}
}

// NewCameraStopCommand asks the shell to tear down its camera stream.
func NewCameraStopCommand() Envelope {
	return Envelope{Type: CommandCameraStop}
}
