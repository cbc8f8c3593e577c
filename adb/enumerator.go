package adb

import (
	"context"

	"mobilecontrol/models"
)

// Enumerator lists Android emulators and real devices for the device directory.
type Enumerator struct {
	Client *ADBClient
}

func (e *Enumerator) Name() string { return "android" }

func (e *Enumerator) ListDevices(ctx context.Context) ([]models.Device, error) {
	return e.Client.ListDevices(ctx)
}
