package robot

import (
	"bytes"
	"context"
	"errors"
	"image/png"

	"mobilecontrol/ios"
	"mobilecontrol/models"
)

var wdaButtons = map[string]string{
	"HOME":        "home",
	"VOLUME_UP":   "volumeUp",
	"VOLUME_DOWN": "volumeDown",
}

// IOSRobot drives a simulator or real device. Gestures go through
// WebDriverAgent; simulator app management and screenshots use simctl.
type IOSRobot struct {
	udid   string
	simctl *ios.Simctl // nil for real devices
	wda    *WDAClient

	wdaUnavailable error // why wda is nil, when the factory knows
}

func NewIOSRobot(udid string, simctl *ios.Simctl, wda *WDAClient) *IOSRobot {
	return &IOSRobot{udid: udid, simctl: simctl, wda: wda}
}

// classify exposes WDA-reported failures verbatim; they are user-actionable
// ("element not interactable", "no such alert", ...).
func classify(err error) error {
	var we *wdaError
	if errors.As(err, &we) {
		return &ActionableError{Message: we.Message, Cause: err}
	}
	return err
}

func (r *IOSRobot) requireWDA() error {
	if r.wda == nil {
		if r.wdaUnavailable != nil {
			return r.wdaUnavailable
		}
		return Actionable("WebDriverAgent is not configured; gestures are unavailable on %s", r.udid)
	}
	return nil
}

func (r *IOSRobot) requireSimulator(op string) error {
	if r.simctl == nil {
		return Actionable("%s is not supported on real iOS devices", op)
	}
	return nil
}

func (r *IOSRobot) Tap(ctx context.Context, x, y int) error {
	if err := r.requireWDA(); err != nil {
		return err
	}
	return classify(r.wda.Tap(ctx, float64(x), float64(y)))
}

func (r *IOSRobot) LongPress(ctx context.Context, x, y, durationMs int) error {
	if err := r.requireWDA(); err != nil {
		return err
	}
	return classify(r.wda.LongPress(ctx, float64(x), float64(y), float64(durationMs)/1000))
}

func (r *IOSRobot) DoubleTap(ctx context.Context, x, y int) error {
	if err := r.requireWDA(); err != nil {
		return err
	}
	return classify(r.wda.DoubleTap(ctx, float64(x), float64(y)))
}

func (r *IOSRobot) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	if err := r.requireWDA(); err != nil {
		return err
	}
	return classify(r.wda.Swipe(ctx, float64(x1), float64(y1), float64(x2), float64(y2), float64(durationMs)/1000))
}

func (r *IOSRobot) SendKeys(ctx context.Context, text string) error {
	if err := r.requireWDA(); err != nil {
		return err
	}
	return classify(r.wda.SendKeys(ctx, text))
}

func (r *IOSRobot) PressButton(ctx context.Context, button string) error {
	if err := r.requireWDA(); err != nil {
		return err
	}
	if button == "ENTER" {
		return classify(r.wda.SendKeys(ctx, "\n"))
	}
	name, ok := wdaButtons[button]
	if !ok {
		return Actionable("Button %q is not supported on iOS", button)
	}
	return classify(r.wda.PressButton(ctx, name))
}

func (r *IOSRobot) Screenshot(ctx context.Context) ([]byte, error) {
	if r.simctl != nil {
		return r.simctl.Screenshot(ctx, r.udid)
	}
	if err := r.requireWDA(); err != nil {
		return nil, err
	}
	b, err := r.wda.Screenshot(ctx)
	return b, classify(err)
}

// ScreenSize is in points when WDA is available; otherwise the screenshot's
// pixel size is used with scale 1.
func (r *IOSRobot) ScreenSize(ctx context.Context) (*models.ScreenSize, error) {
	if r.wda != nil {
		if size, err := r.wda.WindowSize(ctx); err == nil {
			return size, nil
		}
	}
	img, err := r.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}
	return &models.ScreenSize{Width: cfg.Width, Height: cfg.Height, Scale: 1}, nil
}

func (r *IOSRobot) GetOrientation(ctx context.Context) (string, error) {
	if err := r.requireWDA(); err != nil {
		return "", err
	}
	o, err := r.wda.GetOrientation(ctx)
	return o, classify(err)
}

func (r *IOSRobot) SetOrientation(ctx context.Context, orientation string) error {
	if !ValidOrientation(orientation) {
		return Actionable("Invalid orientation %q, expected portrait or landscape", orientation)
	}
	if err := r.requireWDA(); err != nil {
		return err
	}
	return classify(r.wda.SetOrientation(ctx, orientation))
}

func (r *IOSRobot) ListElements(ctx context.Context) ([]models.Element, error) {
	if err := r.requireWDA(); err != nil {
		return nil, err
	}
	els, err := r.wda.Elements(ctx)
	return els, classify(err)
}

func (r *IOSRobot) ListApps(ctx context.Context) ([]models.App, error) {
	if err := r.requireSimulator("Listing apps"); err != nil {
		return nil, err
	}
	return r.simctl.ListApps(ctx, r.udid)
}

func (r *IOSRobot) LaunchApp(ctx context.Context, bundleID string) error {
	if r.simctl != nil {
		return r.simctl.Launch(ctx, r.udid, bundleID)
	}
	if err := r.requireWDA(); err != nil {
		return err
	}
	return classify(r.wda.LaunchApp(ctx, bundleID))
}

func (r *IOSRobot) TerminateApp(ctx context.Context, bundleID string) error {
	if r.simctl != nil {
		return r.simctl.Terminate(ctx, r.udid, bundleID)
	}
	if err := r.requireWDA(); err != nil {
		return err
	}
	return classify(r.wda.TerminateApp(ctx, bundleID))
}

func (r *IOSRobot) InstallApp(ctx context.Context, path string) error {
	if err := r.requireSimulator("Installing apps"); err != nil {
		return err
	}
	return r.simctl.Install(ctx, r.udid, path)
}

func (r *IOSRobot) UninstallApp(ctx context.Context, bundleID string) error {
	if err := r.requireSimulator("Uninstalling apps"); err != nil {
		return err
	}
	return r.simctl.Uninstall(ctx, r.udid, bundleID)
}
