package adb

// Android keycodes for the buttons the executor accepts.
const (
	AKEYCODE_HOME        = 3
	AKEYCODE_BACK        = 4
	AKEYCODE_DPAD_UP     = 19
	AKEYCODE_DPAD_DOWN   = 20
	AKEYCODE_DPAD_LEFT   = 21
	AKEYCODE_DPAD_RIGHT  = 22
	AKEYCODE_DPAD_CENTER = 23
	AKEYCODE_VOLUME_UP   = 24
	AKEYCODE_VOLUME_DOWN = 25
	AKEYCODE_ENTER       = 66
)

// ButtonKeycodes maps executor button names to keycodes.
var ButtonKeycodes = map[string]int{
	"HOME":        AKEYCODE_HOME,
	"BACK":        AKEYCODE_BACK,
	"VOLUME_UP":   AKEYCODE_VOLUME_UP,
	"VOLUME_DOWN": AKEYCODE_VOLUME_DOWN,
	"ENTER":       AKEYCODE_ENTER,
	"DPAD_CENTER": AKEYCODE_DPAD_CENTER,
	"DPAD_UP":     AKEYCODE_DPAD_UP,
	"DPAD_DOWN":   AKEYCODE_DPAD_DOWN,
	"DPAD_LEFT":   AKEYCODE_DPAD_LEFT,
	"DPAD_RIGHT":  AKEYCODE_DPAD_RIGHT,
}
