package api

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"mobilecontrol/models"
	"mobilecontrol/robot"
	"mobilecontrol/service"
)

// stubRobot keeps a tiny in-memory device: a list of apps and the ones running.
type stubRobot struct {
	mu          sync.Mutex
	apps        []string
	running     map[string]bool
	screenshots atomic.Int32
	tapErr      error
}

func newStubRobot() *stubRobot {
	return &stubRobot{
		apps:    []string{"com.android.chrome", "com.android.settings"},
		running: map[string]bool{},
	}
}

func (r *stubRobot) Tap(context.Context, int, int) error { return r.tapErr }
func (r *stubRobot) LongPress(context.Context, int, int, int) error { return nil }
func (r *stubRobot) DoubleTap(context.Context, int, int) error { return nil }
func (r *stubRobot) Swipe(context.Context, int, int, int, int, int) error { return nil }
func (r *stubRobot) SendKeys(context.Context, string) error { return nil }
func (r *stubRobot) PressButton(context.Context, string) error { return nil }

func (r *stubRobot) Screenshot(context.Context) ([]byte, error) {
	r.screenshots.Add(1)
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 108, 192)))
	return buf.Bytes(), nil
}

func (r *stubRobot) ScreenSize(context.Context) (*models.ScreenSize, error) {
	return &models.ScreenSize{Width: 1080, Height: 1920, Scale: 2.625}, nil
}

func (r *stubRobot) GetOrientation(context.Context) (string, error) { return "portrait", nil }

func (r *stubRobot) SetOrientation(_ context.Context, o string) error {
	if !robot.ValidOrientation(o) {
		return robot.Actionable("Invalid orientation %q", o)
	}
	return nil
}

func (r *stubRobot) ListElements(context.Context) ([]models.Element, error) { return nil, nil }

func (r *stubRobot) ListApps(context.Context) ([]models.App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	apps := make([]models.App, 0, len(r.apps))
	for _, p := range r.apps {
		apps = append(apps, models.App{PackageName: p, AppName: p, Running: r.running[p]})
	}
	return apps, nil
}

func (r *stubRobot) LaunchApp(_ context.Context, pkg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.apps {
		if p == pkg {
			r.running[pkg] = true
			return nil
		}
	}
	return robot.Actionable("App %s is not installed", pkg)
}

func (r *stubRobot) TerminateApp(_ context.Context, pkg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, pkg)
	return nil
}

func (r *stubRobot) InstallApp(context.Context, string) error { return nil }
func (r *stubRobot) UninstallApp(context.Context, string) error { return nil }

type stubFactory struct{ robot *stubRobot }

func (f stubFactory) NewRobot(models.Device) (robot.Robot, error) { return f.robot, nil }

type staticEnumerator struct{ devices []models.Device }

func (staticEnumerator) Name() string { return "static" }

func (e staticEnumerator) ListDevices(context.Context) ([]models.Device, error) {
	return e.devices, nil
}

type testEnv struct {
	robot      *stubRobot
	hub        *WebSocketHub
	dir        *service.Directory
	dm         *service.DeviceManager
	dispatcher *service.ActionDispatcher
	router     *gin.Engine
	wsServer   *httptest.Server
}

type envOptions struct {
	token string
	cors  CORSPolicy
}

// newTestEnv wires the full stack around one connected emulator "dev1".
func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := newStubRobot()
	hub := NewWebSocketHub()
	dir := service.NewDirectory(hub, 0, staticEnumerator{devices: []models.Device{
		{ID: "dev1", Name: "Pixel", Platform: models.PlatformAndroid, Kind: models.KindEmulator},
	}})
	if _, err := dir.ListDevices(context.Background()); err != nil {
		t.Fatal(err)
	}
	dm := service.NewDeviceManager(dir, stubFactory{robot: r})
	dispatcher := service.NewActionDispatcher(dm, hub, nil)
	scripts := service.NewScriptEngine(dispatcher)

	var auth *TokenVerifier
	if opts.token != "" {
		auth = NewTokenVerifier(opts.token)
	}
	hub.Attach(dm, dispatcher, opts.cors.CheckOrigin)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	SetupRoutes(router, NewHandlers(dm, dispatcher, scripts, nil), opts.cors, auth)

	wsRouter := gin.New()
	SetupWebSocketRoutes(wsRouter, hub, auth)
	wsServer := httptest.NewServer(wsRouter)

	t.Cleanup(func() {
		wsServer.Close()
		cancel()
	})
	return &testEnv{robot: r, hub: hub, dir: dir, dm: dm, dispatcher: dispatcher, router: router, wsServer: wsServer}
}
