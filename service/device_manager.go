package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"

	log "github.com/sirupsen/logrus"

	"mobilecontrol/models"
	"mobilecontrol/robot"
)

// DeviceManager resolves device ids to snapshots and control handles.
type DeviceManager struct {
	directory *Directory
	factory   robot.Factory
}

func NewDeviceManager(directory *Directory, factory robot.Factory) *DeviceManager {
	return &DeviceManager{
		directory: directory,
		factory:   factory,
	}
}

// ListDevices enumerates all backends. Lookups below never do.
func (m *DeviceManager) ListDevices(ctx context.Context) ([]models.Device, error) {
	return m.directory.ListDevices(ctx)
}

// GetDevice returns the last-known snapshot, or nil.
func (m *DeviceManager) GetDevice(id string) *models.Device {
	return m.directory.Get(id)
}

// Devices returns the last committed device list without enumerating.
func (m *DeviceManager) Devices() []models.Device {
	return m.directory.Devices()
}

// Watch forwards to the directory's reference-counted poller.
func (m *DeviceManager) Watch(cb func([]models.Device)) (unwatch func()) {
	return m.directory.Watch(cb)
}

// KnownDevices lists id/name pairs for "not found" hints.
func (m *DeviceManager) KnownDevices() []models.DeviceRef {
	devices := m.directory.Devices()
	refs := make([]models.DeviceRef, 0, len(devices))
	for _, d := range devices {
		refs = append(refs, models.DeviceRef{ID: d.ID, Name: d.Name})
	}
	return refs
}

// UpdateStatus sets a device's liveness; watchers are notified.
func (m *DeviceManager) UpdateStatus(id string, status models.DeviceStatus) error {
	return m.directory.SetStatus(id, status)
}

// GetRobot returns a fresh control handle for a connected device.
func (m *DeviceManager) GetRobot(id string) (robot.Robot, *models.Device, error) {
	device := m.directory.Get(id)
	if device == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if device.Status != models.StatusConnected {
		return nil, device, robot.Actionable("Device %s is disconnected", id)
	}
	r, err := m.factory.NewRobot(*device)
	if err != nil {
		return nil, device, err
	}
	return r, device, nil
}

// CaptureScreenshot grabs a PNG and reports its size plus the scale between
// image pixels and gesture coordinates.
func (m *DeviceManager) CaptureScreenshot(ctx context.Context, id string) (*models.Screenshot, error) {
	r, device, err := m.GetRobot(id)
	if err != nil {
		return nil, err
	}

	data, err := r.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	screen := device.Screen
	if screen == nil {
		if screen, err = r.ScreenSize(ctx); err != nil {
			log.WithField("device", id).Debugf("Screen size unavailable, assuming scale 1: %v", err)
		}
	}

	return &models.Screenshot{
		Data:   base64.StdEncoding.EncodeToString(data),
		Width:  cfg.Width,
		Height: cfg.Height,
		Scale:  ImageScale(cfg.Width, cfg.Height, screen),
		Format: "png",
	}, nil
}
