package robot

import (
	"context"
	"sort"
	"strings"

	"mobilecontrol/adb"
	"mobilecontrol/models"
)

// AndroidRobot drives an emulator or real device through adb.
type AndroidRobot struct {
	adb    *adb.ADBClient
	serial string
}

func NewAndroidRobot(client *adb.ADBClient, serial string) *AndroidRobot {
	return &AndroidRobot{adb: client, serial: serial}
}

// classify turns adb failures a user can act on into ActionableErrors.
func (r *AndroidRobot) classify(err error) error {
	if err == nil {
		return nil
	}
	if adb.IsDeviceUnavailable(err) {
		return &ActionableError{Message: "Device " + r.serial + " is not available (offline or unauthorized)", Cause: err}
	}
	if msg := err.Error(); strings.Contains(msg, "Failure") || strings.Contains(msg, "no launchable activity") {
		return &ActionableError{Message: msg, Cause: err}
	}
	return err
}

func (r *AndroidRobot) Tap(ctx context.Context, x, y int) error {
	return r.classify(r.adb.SendTap(ctx, r.serial, x, y))
}

func (r *AndroidRobot) LongPress(ctx context.Context, x, y, durationMs int) error {
	return r.classify(r.adb.SendSwipe(ctx, r.serial, x, y, x, y, durationMs))
}

func (r *AndroidRobot) DoubleTap(ctx context.Context, x, y int) error {
	if err := r.adb.SendTap(ctx, r.serial, x, y); err != nil {
		return r.classify(err)
	}
	return r.classify(r.adb.SendTap(ctx, r.serial, x, y))
}

func (r *AndroidRobot) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	return r.classify(r.adb.SendSwipe(ctx, r.serial, x1, y1, x2, y2, durationMs))
}

func (r *AndroidRobot) SendKeys(ctx context.Context, text string) error {
	return r.classify(r.adb.SendText(ctx, r.serial, text))
}

func (r *AndroidRobot) PressButton(ctx context.Context, button string) error {
	code, ok := adb.ButtonKeycodes[button]
	if !ok {
		return Actionable("Button %q is not supported on Android", button)
	}
	return r.classify(r.adb.SendKey(ctx, r.serial, code))
}

func (r *AndroidRobot) Screenshot(ctx context.Context) ([]byte, error) {
	b, err := r.adb.ScreenCapture(ctx, r.serial)
	return b, r.classify(err)
}

func (r *AndroidRobot) ScreenSize(ctx context.Context) (*models.ScreenSize, error) {
	s, err := r.adb.ScreenSize(ctx, r.serial)
	return s, r.classify(err)
}

func (r *AndroidRobot) GetOrientation(ctx context.Context) (string, error) {
	o, err := r.adb.GetOrientation(ctx, r.serial)
	return o, r.classify(err)
}

func (r *AndroidRobot) SetOrientation(ctx context.Context, orientation string) error {
	if !ValidOrientation(orientation) {
		return Actionable("Invalid orientation %q, expected portrait or landscape", orientation)
	}
	return r.classify(r.adb.SetOrientation(ctx, r.serial, orientation))
}

func (r *AndroidRobot) ListElements(ctx context.Context) ([]models.Element, error) {
	raw, err := r.adb.DumpUI(ctx, r.serial)
	if err != nil {
		return nil, r.classify(err)
	}
	return adb.ParseUIDump(raw)
}

func (r *AndroidRobot) ListApps(ctx context.Context) ([]models.App, error) {
	pkgs, err := r.adb.ListPackages(ctx, r.serial)
	if err != nil {
		return nil, r.classify(err)
	}
	running, err := r.adb.RunningProcesses(ctx, r.serial)
	if err != nil {
		running = map[string]bool{}
	}

	apps := make([]models.App, 0, len(pkgs))
	for _, p := range pkgs {
		apps = append(apps, models.App{PackageName: p, AppName: p, Running: running[p]})
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].PackageName < apps[j].PackageName })
	return apps, nil
}

func (r *AndroidRobot) LaunchApp(ctx context.Context, pkg string) error {
	return r.classify(r.adb.OpenApp(ctx, r.serial, pkg))
}

func (r *AndroidRobot) TerminateApp(ctx context.Context, pkg string) error {
	return r.classify(r.adb.ForceStop(ctx, r.serial, pkg))
}

func (r *AndroidRobot) InstallApp(ctx context.Context, path string) error {
	return r.classify(r.adb.InstallAPK(ctx, r.serial, path))
}

func (r *AndroidRobot) UninstallApp(ctx context.Context, pkg string) error {
	return r.classify(r.adb.UninstallPackage(ctx, r.serial, pkg))
}
