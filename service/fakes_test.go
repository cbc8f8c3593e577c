package service

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"

	"mobilecontrol/models"
	"mobilecontrol/robot"
)

// fakeRobot records calls; any func field left nil succeeds.
type fakeRobot struct {
	mu    sync.Mutex
	calls []string

	tapFunc         func(x, y int) error
	swipeFunc       func(x1, y1, x2, y2, durationMs int) error
	sendKeysFunc    func(text string) error
	screenshotFunc  func() ([]byte, error)
	screenSizeFunc  func() (*models.ScreenSize, error)
	pressButtonFunc func(button string) error
}

func (r *fakeRobot) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *fakeRobot) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeRobot) Tap(_ context.Context, x, y int) error {
	r.record("tap")
	if r.tapFunc != nil {
		return r.tapFunc(x, y)
	}
	return nil
}

func (r *fakeRobot) LongPress(_ context.Context, x, y, durationMs int) error {
	r.record("longPress")
	return nil
}

func (r *fakeRobot) DoubleTap(_ context.Context, x, y int) error {
	r.record("doubleTap")
	return nil
}

func (r *fakeRobot) Swipe(_ context.Context, x1, y1, x2, y2, durationMs int) error {
	r.record("swipe")
	if r.swipeFunc != nil {
		return r.swipeFunc(x1, y1, x2, y2, durationMs)
	}
	return nil
}

func (r *fakeRobot) SendKeys(_ context.Context, text string) error {
	r.record("sendKeys")
	if r.sendKeysFunc != nil {
		return r.sendKeysFunc(text)
	}
	return nil
}

func (r *fakeRobot) PressButton(_ context.Context, button string) error {
	r.record("pressButton")
	if r.pressButtonFunc != nil {
		return r.pressButtonFunc(button)
	}
	return nil
}

func (r *fakeRobot) Screenshot(context.Context) ([]byte, error) {
	r.record("screenshot")
	if r.screenshotFunc != nil {
		return r.screenshotFunc()
	}
	return pngBytes(10, 20), nil
}

func (r *fakeRobot) ScreenSize(context.Context) (*models.ScreenSize, error) {
	if r.screenSizeFunc != nil {
		return r.screenSizeFunc()
	}
	return &models.ScreenSize{Width: 1080, Height: 1920, Scale: 1}, nil
}

func (r *fakeRobot) GetOrientation(context.Context) (string, error) { return "portrait", nil }
func (r *fakeRobot) SetOrientation(context.Context, string) error { return nil }
func (r *fakeRobot) ListElements(context.Context) ([]models.Element, error) { return nil, nil }
func (r *fakeRobot) ListApps(context.Context) ([]models.App, error) { return nil, nil }
func (r *fakeRobot) LaunchApp(context.Context, string) error { return nil }
func (r *fakeRobot) TerminateApp(context.Context, string) error { return nil }
func (r *fakeRobot) InstallApp(context.Context, string) error { return nil }
func (r *fakeRobot) UninstallApp(context.Context, string) error { return nil }

type fakeFactory struct {
	robot *fakeRobot
}

func (f *fakeFactory) NewRobot(models.Device) (robot.Robot, error) {
	return f.robot, nil
}

// fakeEnumerator returns whatever devices/err currently holds.
type fakeEnumerator struct {
	name string

	mu      sync.Mutex
	devices []models.Device
	err     error
	calls   int
}

func (e *fakeEnumerator) Name() string { return e.name }

func (e *fakeEnumerator) ListDevices(context.Context) ([]models.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return append([]models.Device(nil), e.devices...), nil
}

func (e *fakeEnumerator) set(devices []models.Device, err error) {
	e.mu.Lock()
	e.devices, e.err = devices, err
	e.mu.Unlock()
}

func (e *fakeEnumerator) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []models.Event
}

func (b *recordingBroadcaster) Broadcast(event models.Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) Types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]string, 0, len(b.events))
	for _, e := range b.events {
		types = append(types, e.Type)
	}
	return types
}

func (b *recordingBroadcaster) Events() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Event(nil), b.events...)
}

func android(id string) models.Device {
	return models.Device{ID: id, Name: id, Platform: models.PlatformAndroid, Kind: models.KindEmulator}
}

func pngBytes(w, h int) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)))
	return buf.Bytes()
}

// newTestServices wires a directory with one enumerator reporting devices.
func newTestServices(r *fakeRobot, devices ...models.Device) (*DeviceManager, *ActionDispatcher, *recordingBroadcaster) {
	b := &recordingBroadcaster{}
	enum := &fakeEnumerator{name: "fake", devices: devices}
	dir := NewDirectory(b, 0, enum)
	_, _ = dir.ListDevices(context.Background())
	dm := NewDeviceManager(dir, &fakeFactory{robot: r})
	return dm, NewActionDispatcher(dm, b, nil), b
}
