package service

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mobilecontrol/models"
)

func TestDeviceManager_GetDeviceHasNoIO(t *testing.T) {
	enum := &fakeEnumerator{name: "android", devices: []models.Device{android("dev1")}}
	dm := NewDeviceManager(NewDirectory(nil, 0, enum), &fakeFactory{robot: &fakeRobot{}})

	if dm.GetDevice("dev1") != nil {
		t.Fatal("device known before any enumeration")
	}
	if _, err := dm.ListDevices(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls := enum.callCount()
	if d := dm.GetDevice("dev1"); d == nil || d.Platform != models.PlatformAndroid {
		t.Fatalf("GetDevice = %+v", d)
	}
	if enum.callCount() != calls {
		t.Error("GetDevice triggered an enumeration")
	}
}

func TestDeviceManager_KnownDevices(t *testing.T) {
	dev := android("emulator-5554")
	dev.Name = "Pixel 7"
	dm, _, _ := newTestServices(&fakeRobot{}, dev)

	want := []models.DeviceRef{{ID: "emulator-5554", Name: "Pixel 7"}}
	if diff := cmp.Diff(want, dm.KnownDevices()); diff != "" {
		t.Errorf("KnownDevices mismatch (-want +got):\n%s", diff)
	}
}

func TestDeviceManager_GetRobotNotFound(t *testing.T) {
	dm, _, _ := newTestServices(&fakeRobot{})
	if _, _, err := dm.GetRobot("nope"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("err = %v, want ErrDeviceNotFound", err)
	}
}

func TestDeviceManager_CaptureScreenshot(t *testing.T) {
	img := pngBytes(1170, 2532)
	dev := models.Device{
		ID: "sim", Name: "iPhone", Platform: models.PlatformIOS, Kind: models.KindSimulator,
		Screen: &models.ScreenSize{Width: 390, Height: 844, Scale: 3},
	}
	dm, _, _ := newTestServices(&fakeRobot{screenshotFunc: func() ([]byte, error) { return img, nil }}, dev)

	shot, err := dm.CaptureScreenshot(context.Background(), "sim")
	if err != nil {
		t.Fatal(err)
	}
	want := &models.Screenshot{
		Data:   base64.StdEncoding.EncodeToString(img),
		Width:  1170,
		Height: 2532,
		Scale:  3,
		Format: "png",
	}
	if diff := cmp.Diff(want, shot); diff != "" {
		t.Errorf("screenshot mismatch (-want +got):\n%s", diff)
	}
}

func TestDeviceManager_CaptureScreenshotErrors(t *testing.T) {
	dm, _, _ := newTestServices(&fakeRobot{
		screenshotFunc: func() ([]byte, error) { return []byte("not a png"), nil },
	}, android("dev1"))

	if _, err := dm.CaptureScreenshot(context.Background(), "dev1"); err == nil {
		t.Error("expected decode error")
	}
	if _, err := dm.CaptureScreenshot(context.Background(), "ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("err = %v, want ErrDeviceNotFound", err)
	}
}
