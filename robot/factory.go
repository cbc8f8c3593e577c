package robot

import (
	"fmt"

	"mobilecontrol/adb"
	"mobilecontrol/ios"
	"mobilecontrol/models"
)

// DefaultFactory builds robots for every platform the directory can enumerate.
//
// Each WebDriverAgent drives exactly one iOS device. Devices listed in
// WDAByDevice use their own agent. WDA is the fallback agent and is only
// handed out while a single unmapped iOS device is connected, so gestures
// can never land on the wrong phone.
type DefaultFactory struct {
	ADB         *adb.ADBClient
	Simctl      *ios.Simctl
	WDA         *WDAClient            // nil disables the fallback agent
	WDAByDevice map[string]*WDAClient // udid -> agent

	// Devices returns the tracked devices. nil means the caller knows only
	// one iOS device can be attached.
	Devices func() []models.Device
}

func (f *DefaultFactory) NewRobot(device models.Device) (Robot, error) {
	switch device.Platform {
	case models.PlatformAndroid:
		if f.ADB == nil {
			return nil, Actionable("Android support is not configured")
		}
		return NewAndroidRobot(f.ADB, device.ID), nil
	case models.PlatformIOS:
		var simctl *ios.Simctl
		if device.Kind == models.KindSimulator {
			simctl = f.Simctl
			if simctl == nil {
				return nil, Actionable("iOS simulator support is not configured")
			}
		}
		wda, err := f.wdaFor(device.ID)
		r := NewIOSRobot(device.ID, simctl, wda)
		r.wdaUnavailable = err
		return r, nil
	}
	return nil, fmt.Errorf("unsupported platform %q for device %s", device.Platform, device.ID)
}

// wdaFor picks the agent for udid. The error explains why gestures are
// unavailable; app management through simctl keeps working.
func (f *DefaultFactory) wdaFor(udid string) (*WDAClient, error) {
	if c, ok := f.WDAByDevice[udid]; ok && c != nil {
		return c, nil
	}
	if f.WDA == nil {
		return nil, nil
	}
	if f.Devices != nil {
		for _, d := range f.Devices() {
			if d.ID == udid || d.Platform != models.PlatformIOS || d.Status != models.StatusConnected {
				continue
			}
			if _, mapped := f.WDAByDevice[d.ID]; !mapped {
				return nil, Actionable("Several iOS devices are connected and %s has no WebDriverAgent of its own; map it under devices.wdaDevices", udid)
			}
		}
	}
	return f.WDA, nil
}
