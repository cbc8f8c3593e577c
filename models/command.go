package models

// Command names accepted by the executor.
const (
	CmdTap                 = "tap"
	CmdLongPress           = "longPress"
	CmdDoubleTap           = "doubleTap"
	CmdSwipe               = "swipe"
	CmdSwipeFromCoordinate = "swipeFromCoordinate"
	CmdSendKeys            = "sendKeys"
	CmdPressButton         = "pressButton"
)

// Command is one named operation plus its parameter bag.
type Command struct {
	Name   string                 `json:"command"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// CommandResult is the uniform outcome of a command. Index is only set in
// script context.
type CommandResult struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    interface{}            `json:"data,omitempty"`
	Command string                 `json:"command,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Index   *int                   `json:"index,omitempty"`
}

// Failure builds a failed result; message is mandatory.
func Failure(message string) CommandResult {
	if message == "" {
		message = "unknown error"
	}
	return CommandResult{Success: false, Message: message}
}

// HistoryEntry is a persisted command_result.
type HistoryEntry struct {
	ID        string                 `json:"id"`
	DeviceID  string                 `json:"deviceId"`
	Command   string                 `json:"command"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Success   bool                   `json:"success"`
	Message   string                 `json:"message,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}
