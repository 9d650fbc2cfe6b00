package scanbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/aymurapp/scanbridge/internal/scan"
	"github.com/aymurapp/scanbridge/internal/scanwire"
)

// Capture RPC Direct Handlers
// This module provides direct handlers for the shell-facing capture
// methods. Key events arrive in machine-speed bursts, so the hot methods
// parse their params into typed structs once and go straight to the
// capture components without any reflection or generic dispatch.

// decodeParams parses the request params into a typed struct with a
// consistent error message.
func decodeParams(req *scanwire.Request, methodName string, v any) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("%s: params are required", methodName)
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("%s: malformed params: %w", methodName, err)
	}
	return nil
}

// validateStringParam checks a required string parameter.
func validateStringParam(value, paramName, methodName string) error {
	if value == "" {
		return fmt.Errorf("%s: %s parameter is required", methodName, paramName)
	}
	return nil
}

// Direct handler for global key events, the highest frequency method on
// the wire.
func handleKeyEventDirect(req *scanwire.Request) (any, error) {
	var p scanwire.KeyEventParams
	if err := decodeParams(req, "keyEvent", &p); err != nil {
		return nil, err
	}
	if err := validateStringParam(p.Key, "key", "keyEvent"); err != nil {
		return nil, err
	}

	classifier.HandleKey(p.KeyEvent())
	return nil, nil
}

// Direct handler for field registrations.
func handleFieldRegisterDirect(connectionID string, req *scanwire.Request) (any, error) {
	var p scanwire.FieldRegisterParams
	if err := decodeParams(req, "fieldRegister", &p); err != nil {
		return nil, err
	}
	if err := validateStringParam(p.FieldID, "fieldId", "fieldRegister"); err != nil {
		return nil, err
	}

	cfg := scan.DefaultConfig()
	if snapshot, ok := configSnapshot(); ok {
		cfg = snapshot.CaptureConfig()
	}
	if _, err := fields.Register(connectionID, p.FieldID, cfg, p.ClearOnScan); err != nil {
		return nil, fmt.Errorf("fieldRegister: %w", err)
	}
	return nil, nil
}

// Direct handler for field releases.
func handleFieldReleaseDirect(req *scanwire.Request) (any, error) {
	var p scanwire.FieldReleaseParams
	if err := decodeParams(req, "fieldRelease", &p); err != nil {
		return nil, err
	}
	if err := validateStringParam(p.FieldID, "fieldId", "fieldRelease"); err != nil {
		return nil, err
	}

	fields.Release(p.FieldID)
	return nil, nil
}

// Direct handler for field value snapshots.
func handleFieldInputDirect(req *scanwire.Request) (any, error) {
	var p scanwire.FieldInputParams
	if err := decodeParams(req, "fieldInput", &p); err != nil {
		return nil, err
	}
	if err := validateStringParam(p.FieldID, "fieldId", "fieldInput"); err != nil {
		return nil, err
	}

	adapter, ok := fields.Get(p.FieldID)
	if !ok {
		return nil, fmt.Errorf("fieldInput: unknown field id %q", p.FieldID)
	}
	adapter.HandleInput(p.Value)
	return nil, nil
}

// Direct handler for control keys observed inside a field.
func handleFieldKeyDirect(req *scanwire.Request) (any, error) {
	var p scanwire.FieldKeyParams
	if err := decodeParams(req, "fieldKey", &p); err != nil {
		return nil, err
	}
	if err := validateStringParam(p.FieldID, "fieldId", "fieldKey"); err != nil {
		return nil, err
	}
	if err := validateStringParam(p.Key, "key", "fieldKey"); err != nil {
		return nil, err
	}

	adapter, ok := fields.Get(p.FieldID)
	if !ok {
		return nil, fmt.Errorf("fieldKey: unknown field id %q", p.FieldID)
	}
	adapter.HandleKey(p.Key)
	return nil, nil
}

// Direct handler for camera request failures reported by the shell.
func handleCameraErrorDirect(req *scanwire.Request) (any, error) {
	var p scanwire.CameraErrorParams
	if err := decodeParams(req, "cameraError", &p); err != nil {
		return nil, err
	}
	if err := validateStringParam(p.RequestID, "requestId", "cameraError"); err != nil {
		return nil, err
	}

	cameraProvider.resolveError(p.RequestID, p.Name, p.Message)
	return nil, nil
}

// Direct handler for camera device announcements.
func handleDeviceListDirect(req *scanwire.Request) (any, error) {
	var p scanwire.DeviceListParams
	if err := decodeParams(req, "deviceList", &p); err != nil {
		return nil, err
	}

	cameraProvider.updateDevices(p.Devices)
	return nil, nil
}

// handlePing answers the shell handshake.
func handlePing() (any, error) {
	result := scanwire.PingResult{Version: scanwire.Version}
	if snapshot, ok := configSnapshot(); ok {
		result.StationID = snapshot.StationID
	}
	return result, nil
}

// handleCaptureRPCDirect routes capture method calls to their direct
// handlers. This function must be kept in sync with isCaptureMethod.
func handleCaptureRPCDirect(connectionID string, req *scanwire.Request) (any, error) {
	switch req.Method {
	case scanwire.MethodPing:
		return handlePing()
	case scanwire.MethodKeyEvent:
		return handleKeyEventDirect(req)
	case scanwire.MethodFieldRegister:
		return handleFieldRegisterDirect(connectionID, req)
	case scanwire.MethodFieldRelease:
		return handleFieldReleaseDirect(req)
	case scanwire.MethodFieldInput:
		return handleFieldInputDirect(req)
	case scanwire.MethodFieldKey:
		return handleFieldKeyDirect(req)
	case scanwire.MethodCameraError:
		return handleCameraErrorDirect(req)
	case scanwire.MethodDeviceList:
		return handleDeviceListDirect(req)
	default:
		return nil, fmt.Errorf("handleCaptureRPCDirect: unsupported method %q", req.Method)
	}
}

// isCaptureMethod determines if a given method has a direct handler.
func isCaptureMethod(method scanwire.Method) bool {
	switch method {
	case scanwire.MethodPing,
		scanwire.MethodKeyEvent,
		scanwire.MethodFieldRegister,
		scanwire.MethodFieldRelease,
		scanwire.MethodFieldInput,
		scanwire.MethodFieldKey,
		scanwire.MethodCameraError,
		scanwire.MethodDeviceList:
		return true
	default:
		return false
	}
}

// onRPCRequest dispatches one inbound frame and answers it when the shell
// asked for a response.
func onRPCRequest(ctx context.Context, conn *websocket.Conn, connectionID string, req *scanwire.Request) {
	if !isCaptureMethod(req.Method) {
		wsLogger.Warn().Str("method", string(req.Method)).Msg("unknown rpc method")
		if req.ID != "" {
			writeResponse(ctx, conn, scanwire.NewErrorResponse(req.ID, scanwire.ErrorCodeMethodNotFound,
				fmt.Sprintf("unknown method %q", req.Method)))
		}
		return
	}

	result, err := handleCaptureRPCDirect(connectionID, req)
	if err != nil {
		wsLogger.Warn().Err(err).Str("method", string(req.Method)).Msg("rpc method failed")
		if req.ID != "" {
			writeResponse(ctx, conn, scanwire.NewErrorResponse(req.ID, scanwire.ErrorCodeInvalidParams, err.Error()))
		}
		return
	}
	if req.ID != "" {
		writeResponse(ctx, conn, scanwire.NewResponse(req.ID, result))
	}
}

func writeResponse(ctx context.Context, conn *websocket.Conn, resp *scanwire.Response) {
	if err := wsjson.Write(ctx, conn, resp); err != nil {
		wsLogger.Warn().Err(err).Str("id", resp.ID).Msg("failed to write rpc response")
	}
}
