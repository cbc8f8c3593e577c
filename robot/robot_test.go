package robot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mobilecontrol/adb"
	"mobilecontrol/models"
)

func adbWith(outputs map[string]string, stderr map[string]string, calls *[]string) *adb.ADBClient {
	return adb.NewADBClientWithRunner("adb", func(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
		key := strings.Join(args, " ")
		if calls != nil {
			*calls = append(*calls, key)
		}
		if e, ok := stderr[key]; ok {
			return nil, []byte(e), errors.New("exit status 1")
		}
		if out, ok := outputs[key]; ok {
			return []byte(out), nil, nil
		}
		return nil, nil, nil
	})
}

func TestAndroidRobot_PressButtonKeycodes(t *testing.T) {
	var calls []string
	r := NewAndroidRobot(adbWith(nil, nil, &calls), "emulator-5554")

	for _, b := range []string{"HOME", "BACK", "ENTER", "DPAD_CENTER"} {
		if err := r.PressButton(context.Background(), b); err != nil {
			t.Fatalf("PressButton(%s) error = %v", b, err)
		}
	}
	want := []string{
		"-s emulator-5554 shell input keyevent 3",
		"-s emulator-5554 shell input keyevent 4",
		"-s emulator-5554 shell input keyevent 66",
		"-s emulator-5554 shell input keyevent 23",
	}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("adb calls mismatch (-want +got):\n%s", diff)
	}

	if err := r.PressButton(context.Background(), "POWER"); !IsActionable(err) {
		t.Errorf("unknown button err = %v, want actionable", err)
	}
}

func TestAndroidRobot_LongPressIsStationarySwipe(t *testing.T) {
	var calls []string
	r := NewAndroidRobot(adbWith(nil, nil, &calls), "s1")
	if err := r.LongPress(context.Background(), 10, 20, 800); err != nil {
		t.Fatal(err)
	}
	if calls[0] != "-s s1 shell input swipe 10 20 10 20 800" {
		t.Errorf("call = %q", calls[0])
	}
}

func TestAndroidRobot_OfflineDeviceIsActionable(t *testing.T) {
	r := NewAndroidRobot(adbWith(nil, map[string]string{
		"-s s1 shell input tap 1 2": "error: device offline",
	}, nil), "s1")

	err := r.Tap(context.Background(), 1, 2)
	if !IsActionable(err) {
		t.Fatalf("err = %v, want actionable", err)
	}
	if !strings.Contains(err.Error(), "s1") {
		t.Errorf("message %q should name the device", err.Error())
	}
}

func TestAndroidRobot_ListAppsMarksRunning(t *testing.T) {
	r := NewAndroidRobot(adbWith(map[string]string{
		"-s dev1 shell pm list packages":   "package:com.android.settings\npackage:com.android.chrome\n",
		"-s dev1 shell ps -A -o NAME":      "NAME\ninit\ncom.android.settings\n",
	}, nil, nil), "dev1")

	apps, err := r.ListApps(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []models.App{
		{PackageName: "com.android.chrome", AppName: "com.android.chrome"},
		{PackageName: "com.android.settings", AppName: "com.android.settings", Running: true},
	}
	if diff := cmp.Diff(want, apps); diff != "" {
		t.Errorf("apps mismatch (-want +got):\n%s", diff)
	}
}

func TestAndroidRobot_SetOrientationValidates(t *testing.T) {
	r := NewAndroidRobot(adbWith(nil, nil, nil), "s1")
	if err := r.SetOrientation(context.Background(), "sideways"); !IsActionable(err) {
		t.Errorf("err = %v, want actionable", err)
	}
}

func newWDAServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]interface{})) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/session" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": map[string]interface{}{"sessionId": "S1"}})
			return
		}
		handler(w, r, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIOSRobot_TapUsesSession(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := newWDAServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		gotPath, gotBody = r.URL.Path, body
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": nil})
	})

	r := NewIOSRobot("udid", nil, NewWDAClient(srv.URL))
	if err := r.Tap(context.Background(), 100, 200); err != nil {
		t.Fatalf("Tap() error = %v", err)
	}
	if gotPath != "/session/S1/wda/tap" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["x"] != float64(100) || gotBody["y"] != float64(200) {
		t.Errorf("body = %v", gotBody)
	}
}

func TestIOSRobot_WDAErrorIsActionable(t *testing.T) {
	srv := newWDAServer(t, func(w http.ResponseWriter, r *http.Request, _ map[string]interface{}) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": map[string]interface{}{
			"error":   "element not interactable",
			"message": "Element is not hittable",
		}})
	})

	err := NewIOSRobot("udid", nil, NewWDAClient(srv.URL)).Tap(context.Background(), 1, 1)
	if !IsActionable(err) || err.Error() != "Element is not hittable" {
		t.Fatalf("err = %v, want actionable 'Element is not hittable'", err)
	}
}

func TestIOSRobot_ScreenshotFromWDA(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	srv := newWDAServer(t, func(w http.ResponseWriter, r *http.Request, _ map[string]interface{}) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": base64.StdEncoding.EncodeToString(png)})
	})

	got, err := NewIOSRobot("udid", nil, NewWDAClient(srv.URL)).Screenshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(png) {
		t.Errorf("screenshot = %v", got)
	}
}

func TestIOSRobot_WithoutWDA(t *testing.T) {
	r := NewIOSRobot("udid", nil, nil)
	if err := r.Tap(context.Background(), 1, 1); !IsActionable(err) {
		t.Errorf("Tap err = %v, want actionable", err)
	}
	if _, err := r.ListApps(context.Background()); !IsActionable(err) {
		t.Errorf("ListApps on real device err = %v, want actionable", err)
	}
}

func TestIOSRobot_UnreachableWDAIsActionable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewIOSRobot("udid", nil, NewWDAClient(url)).PressButton(context.Background(), "HOME")
	if !IsActionable(err) {
		t.Fatalf("err = %v, want actionable", err)
	}
}

func TestDefaultFactory(t *testing.T) {
	f := &DefaultFactory{ADB: adb.NewADBClient("")}

	r, err := f.NewRobot(models.Device{ID: "emulator-5554", Platform: models.PlatformAndroid, Kind: models.KindEmulator})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*AndroidRobot); !ok {
		t.Errorf("robot = %T, want *AndroidRobot", r)
	}

	if _, err := f.NewRobot(models.Device{ID: "sim", Platform: models.PlatformIOS, Kind: models.KindSimulator}); !IsActionable(err) {
		t.Errorf("simulator without simctl err = %v, want actionable", err)
	}

	if _, err := f.NewRobot(models.Device{ID: "x", Platform: "tizen"}); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestDefaultFactory_WDAPerDevice(t *testing.T) {
	var hitA, hitFallback atomic.Int32
	agentA := newWDAServer(t, func(w http.ResponseWriter, r *http.Request, _ map[string]interface{}) {
		hitA.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": nil})
	})
	fallback := newWDAServer(t, func(w http.ResponseWriter, r *http.Request, _ map[string]interface{}) {
		hitFallback.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": nil})
	})

	phone := func(id string) models.Device {
		return models.Device{ID: id, Platform: models.PlatformIOS, Kind: models.KindReal, Status: models.StatusConnected}
	}
	devices := []models.Device{phone("A"), phone("B"), phone("C")}
	f := &DefaultFactory{
		WDA:         NewWDAClient(fallback.URL),
		WDAByDevice: map[string]*WDAClient{"A": NewWDAClient(agentA.URL)},
		Devices:     func() []models.Device { return devices },
	}
	ctx := context.Background()

	r, err := f.NewRobot(phone("A"))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Tap(ctx, 1, 1); err != nil {
		t.Fatalf("mapped device Tap() error = %v", err)
	}
	if hitA.Load() != 1 || hitFallback.Load() != 0 {
		t.Errorf("mapped device hits: agent=%d fallback=%d", hitA.Load(), hitFallback.Load())
	}

	// B and C are both unmapped, so the fallback agent is ambiguous.
	r, err = f.NewRobot(phone("B"))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Tap(ctx, 1, 1); !IsActionable(err) || !strings.Contains(err.Error(), "Several iOS devices") {
		t.Errorf("ambiguous Tap() err = %v, want actionable", err)
	}
	if n := hitFallback.Load(); n != 0 {
		t.Errorf("fallback agent was used %d times while ambiguous", n)
	}

	// With C gone, B is the only unmapped device and may use the fallback.
	devices[2].Status = models.StatusDisconnected
	r, err = f.NewRobot(phone("B"))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Tap(ctx, 1, 1); err != nil {
		t.Fatalf("sole unmapped Tap() error = %v", err)
	}
	if n := hitFallback.Load(); n != 1 {
		t.Errorf("fallback hits = %d, want 1", n)
	}
}

func TestIsButton(t *testing.T) {
	if !IsButton("DPAD_LEFT") || IsButton("home") || IsButton("POWER") {
		t.Error("IsButton must match the closed upper-case set exactly")
	}
}
