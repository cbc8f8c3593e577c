package models

import "time"

// Event types sent server -> client.
const (
	EventScreenshot         = "screenshot"
	EventDeviceConnected    = "device_connected"
	EventDeviceDisconnected = "device_disconnected"
	EventCommandResult      = "command_result"
	EventConnectionStatus   = "connection_status"
	EventDeviceList         = "device_list"
	EventError              = "error"
)

// Subscription classes a client can opt into.
const (
	SubScreenshot     = "screenshot"
	SubDeviceEvents   = "device_events"
	SubCommandResults = "command_results"
)

// Event is the server -> client envelope.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ClientMessage is the client -> server envelope. Payload is decoded per Type.
type ClientMessage struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

type CommandResultEvent struct {
	DeviceID  string                 `json:"deviceId"`
	Command   string                 `json:"command"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Result    CommandResult          `json:"result"`
	Timestamp int64                  `json:"timestamp"`
}

type DeviceEvent struct {
	Device    Device `json:"device"`
	Timestamp int64  `json:"timestamp"`
}

// ScreenshotEvent carries either an image or, like ErrorBody, a short
// error label plus a message.
type ScreenshotEvent struct {
	DeviceID  string      `json:"deviceId"`
	Image     *Screenshot `json:"image,omitempty"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type ConnectionStatus struct {
	Status   string `json:"status"`
	ClientID string `json:"clientId"`
}

// Now is the millisecond timestamp used in every event.
func Now() int64 {
	return time.Now().UnixMilli()
}
