package models

// Platform is the operating system family of a device.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// DeviceKind distinguishes virtual devices from physical hardware.
type DeviceKind string

const (
	KindSimulator DeviceKind = "simulator"
	KindEmulator  DeviceKind = "emulator"
	KindReal      DeviceKind = "real"
)

// DeviceStatus is the liveness of a tracked device.
type DeviceStatus string

const (
	StatusConnected    DeviceStatus = "connected"
	StatusDisconnected DeviceStatus = "disconnected"
)

// ScreenSize is the geometry of the coordinate space gestures use: pixels on
// Android, points on iOS. Scale is pixels per unit.
type ScreenSize struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

type Device struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Platform    Platform     `json:"platform"`
	Kind        DeviceKind   `json:"kind"`
	Status      DeviceStatus `json:"status"`
	OSVersion   string       `json:"osVersion,omitempty"`
	Screen      *ScreenSize  `json:"screen,omitempty"`
	Orientation string       `json:"orientation,omitempty"`
	LastSeen    int64        `json:"lastSeen"`
}

// Clone returns a deep copy safe to hand out of a lock.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	if d.Screen != nil {
		s := *d.Screen
		c.Screen = &s
	}
	return &c
}

// DeviceRef is the short form used in "not found" remediation hints.
type DeviceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// App is an installed application on a device.
type App struct {
	PackageName string `json:"packageName"`
	AppName     string `json:"appName"`
	Running     bool   `json:"running,omitempty"`
}

// Element is a node of the on-screen UI tree.
type Element struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Label      string `json:"label,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Rect       Rect   `json:"rect"`
	Focused    bool   `json:"focused,omitempty"`
}

type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Screenshot is an encoded capture plus the geometry needed to map clicks back.
type Screenshot struct {
	Data   string  `json:"screenshot"` // base64
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
	Format string  `json:"format"`
}
