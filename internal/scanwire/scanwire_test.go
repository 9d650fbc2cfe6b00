package scanwire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aymurapp/scanbridge/internal/scan"
)

func TestGetQueueIndex(t *testing.T) {
	tests := []struct {
		name   string
		method Method
		want   int
	}{
		{"ping", MethodPing, HandshakeQueue},
		{"keyEvent", MethodKeyEvent, KeyboardQueue},
		{"fieldRegister", MethodFieldRegister, FieldQueue},
		{"fieldRelease", MethodFieldRelease, FieldQueue},
		{"fieldInput", MethodFieldInput, FieldQueue},
		{"fieldKey", MethodFieldKey, FieldQueue},
		{"cameraError", MethodCameraError, CameraQueue},
		{"deviceList", MethodDeviceList, CameraQueue},
		{"unknown method", Method("reboot"), OtherQueue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetQueueIndex(tt.method))
			assert.Less(t, GetQueueIndex(tt.method), QueueCount)
		})
	}
}

func TestUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{
			name: "key event with params",
			data: `{"method":"keyEvent","params":{"key":"1"}}`,
		},
		{
			name: "ping with id",
			data: `{"id":"42","method":"ping"}`,
		},
		{
			name:    "empty frame",
			data:    "",
			wantErr: true,
		},
		{
			name:    "missing method",
			data:    `{"id":"7","params":{}}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			data:    `{"method":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			err := Unmarshal([]byte(tt.data), &req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.NotEmpty(t, req.Method)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	params, err := json.Marshal(FieldInputParams{FieldID: "sku-entry", Value: "4006381333931"})
	require.NoError(t, err)

	original := &Request{ID: "9", Method: MethodFieldInput, Params: params}
	data, err := Marshal(original)
	require.NoError(t, err)

	var decoded Request
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Method, decoded.Method)

	var p FieldInputParams
	require.NoError(t, json.Unmarshal(decoded.Params, &p))
	assert.Equal(t, "sku-entry", p.FieldID)
	assert.Equal(t, "4006381333931", p.Value)
}

func TestMarshalRejectsMissingMethod(t *testing.T) {
	_, err := Marshal(&Request{ID: "1"})
	assert.Error(t, err)
}

func TestKeyEventParamsConversion(t *testing.T) {
	p := KeyEventParams{
		Key:         "A",
		Code:        "KeyA",
		Ctrl:        true,
		TextEntry:   true,
		ScanCapture: true,
	}
	ev := p.KeyEvent()
	assert.Equal(t, "A", ev.Key)
	assert.Equal(t, "KeyA", ev.Code)
	assert.True(t, ev.Ctrl)
	assert.False(t, ev.Alt)
	assert.True(t, ev.Target.TextEntry)
	assert.True(t, ev.Target.ScanCapture)
}

func TestScanEventWireShape(t *testing.T) {
	observed := time.UnixMilli(1724236800000)
	env := NewScanEvent(scan.ScanEvent{
		Value:      "AYM-0042",
		ObservedAt: observed,
		Source:     scan.SourceCamera,
	})

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"scan","data":{"value":"AYM-0042","source":"camera","observedAt":1724236800000}}`,
		string(data))
}

func TestEnvelopeConstructors(t *testing.T) {
	state := NewScannerStateEvent("error", "decode engine fault")
	assert.Equal(t, EventScannerStateChanged, state.Type)
	assert.Equal(t, ScannerStateData{State: "error", Error: "decode engine fault"}, state.Data)

	control := NewFieldControlCommand("sku-entry", "clear", "")
	assert.Equal(t, CommandFieldControl, control.Type)
	assert.Equal(t, FieldControlData{FieldID: "sku-entry", Op: "clear"}, control.Data)

	request := NewCameraRequestCommand("req-1", "", "environment", 10)
	assert.Equal(t, CommandCameraRequest, request.Type)
	assert.Equal(t, CameraRequestData{RequestID: "req-1", Facing: "environment", FramesPerSecond: 10}, request.Data)

	stop := NewCameraStopCommand()
	assert.Equal(t, CommandCameraStop, stop.Type)
	assert.Nil(t, stop.Data)
}

func TestResponses(t *testing.T) {
	ok := NewResponse("5", PingResult{Version: Version, StationID: "till-3"})
	assert.Equal(t, "5", ok.ID)
	assert.Nil(t, ok.Error)

	fail := NewErrorResponse("6", ErrorCodeInvalidParams, "fieldId is required")
	require.NotNil(t, fail.Error)
	assert.Equal(t, ErrorCodeInvalidParams, fail.Error.Code)
	assert.Contains(t, fail.Error.Error(), "fieldId is required")
}
