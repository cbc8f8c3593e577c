package ios

import (
	"context"
	"fmt"
	"time"

	goios "github.com/danielpaulus/go-ios/ios"
	log "github.com/sirupsen/logrus"

	"mobilecontrol/models"
)

type usbDevice struct {
	UDID      string
	Name      string
	OSVersion string
}

// listUSBDevices asks usbmuxd for attached devices and reads their lockdown values.
var listUSBDevices = func() ([]usbDevice, error) {
	list, err := goios.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("usbmuxd: %w", err)
	}

	devices := make([]usbDevice, 0, len(list.DeviceList))
	for _, entry := range list.DeviceList {
		d := usbDevice{UDID: entry.Properties.SerialNumber, Name: entry.Properties.SerialNumber}
		if values, err := goios.GetValues(entry); err == nil {
			if values.Value.DeviceName != "" {
				d.Name = values.Value.DeviceName
			}
			d.OSVersion = values.Value.ProductVersion
		} else {
			log.WithField("device", d.UDID).Debugf("Failed to read lockdown values: %v", err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// RealDeviceEnumerator lists USB-attached iPhones and iPads.
type RealDeviceEnumerator struct{}

func (RealDeviceEnumerator) Name() string { return "ios-real" }

func (RealDeviceEnumerator) ListDevices(ctx context.Context) ([]models.Device, error) {
	type result struct {
		devices []usbDevice
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := listUSBDevices()
		ch <- result{d, err}
	}()

	var found []usbDevice
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		found = r.devices
	}

	devices := make([]models.Device, 0, len(found))
	for _, d := range found {
		if d.UDID == "" {
			continue
		}
		devices = append(devices, models.Device{
			ID:        d.UDID,
			Name:      d.Name,
			Platform:  models.PlatformIOS,
			Kind:      models.KindReal,
			Status:    models.StatusConnected,
			OSVersion: d.OSVersion,
			LastSeen:  time.Now().Unix(),
		})
	}
	return devices, nil
}
