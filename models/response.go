package models

// ErrorBody is the JSON envelope of every 4xx/5xx response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type DeviceNotFoundBody struct {
	Error            string      `json:"error"`
	Message          string      `json:"message"`
	AvailableDevices []DeviceRef `json:"availableDevices"`
}

func ErrorResponse(err string) ErrorBody {
	return ErrorBody{Error: err}
}

func ErrorWithMessage(err, message string) ErrorBody {
	return ErrorBody{Error: err, Message: message}
}

// DeviceNotFoundResponse lists the known devices so the caller can self-correct.
func DeviceNotFoundResponse(id string, known []DeviceRef) DeviceNotFoundBody {
	if known == nil {
		known = []DeviceRef{}
	}
	return DeviceNotFoundBody{
		Error:            "Device not found",
		Message:          "Device not found: " + id,
		AvailableDevices: known,
	}
}

// MessageResult is the {success,message} shape of mutating routes.
type MessageResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func MessageResponse(message string) MessageResult {
	return MessageResult{Success: true, Message: message}
}
