// Package robot defines the device-control handle the control plane drives,
// and its Android (adb) and iOS (simctl + WebDriverAgent) implementations.
package robot

import (
	"context"
	"errors"
	"fmt"

	"mobilecontrol/models"
)

// Robot controls one concrete device. Handles are cheap and obtained per
// operation; callers must not cache them.
type Robot interface {
	Tap(ctx context.Context, x, y int) error
	LongPress(ctx context.Context, x, y, durationMs int) error
	DoubleTap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error
	SendKeys(ctx context.Context, text string) error
	PressButton(ctx context.Context, button string) error

	Screenshot(ctx context.Context) ([]byte, error)
	ScreenSize(ctx context.Context) (*models.ScreenSize, error)
	GetOrientation(ctx context.Context) (string, error)
	SetOrientation(ctx context.Context, orientation string) error
	ListElements(ctx context.Context) ([]models.Element, error)

	ListApps(ctx context.Context) ([]models.App, error)
	LaunchApp(ctx context.Context, pkg string) error
	TerminateApp(ctx context.Context, pkg string) error
	InstallApp(ctx context.Context, path string) error
	UninstallApp(ctx context.Context, pkg string) error
}

// Factory builds a fresh Robot for a device.
type Factory interface {
	NewRobot(device models.Device) (Robot, error)
}

// ActionableError is a recoverable, user-facing device failure whose message
// is safe to show verbatim (e.g. "element not tappable").
type ActionableError struct {
	Message string
	Cause   error
}

func (e *ActionableError) Error() string { return e.Message }

func (e *ActionableError) Unwrap() error { return e.Cause }

// Actionable builds an ActionableError from a format string.
func Actionable(format string, args ...interface{}) error {
	return &ActionableError{Message: fmt.Sprintf(format, args...)}
}

// IsActionable reports whether err (or anything it wraps) is actionable.
func IsActionable(err error) bool {
	var ae *ActionableError
	return errors.As(err, &ae)
}

// Buttons is the closed set PressButton accepts.
var Buttons = []string{
	"HOME", "BACK", "VOLUME_UP", "VOLUME_DOWN", "ENTER",
	"DPAD_CENTER", "DPAD_UP", "DPAD_DOWN", "DPAD_LEFT", "DPAD_RIGHT",
}

// IsButton reports whether name is one of Buttons.
func IsButton(name string) bool {
	for _, b := range Buttons {
		if b == name {
			return true
		}
	}
	return false
}

// ValidOrientation reports whether o is an orientation robots accept.
func ValidOrientation(o string) bool {
	return o == "portrait" || o == "landscape"
}
