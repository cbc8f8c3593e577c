// Package ios enumerates and drives iOS simulators (xcrun simctl) and real
// devices (usbmuxd via go-ios).
package ios

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"howett.net/plist"

	"mobilecontrol/models"
)

// Runner executes a host binary and returns its stdout and stderr.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Simctl drives `xcrun simctl`.
type Simctl struct {
	run Runner
}

func NewSimctl() *Simctl {
	return &Simctl{run: execRunner}
}

func NewSimctlWithRunner(run Runner) *Simctl {
	return &Simctl{run: run}
}

func (s *Simctl) simctl(ctx context.Context, args ...string) ([]byte, error) {
	stdout, stderr, err := s.run(ctx, "xcrun", append([]string{"simctl"}, args...)...)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			return nil, fmt.Errorf("simctl %s: %w", args[0], err)
		}
		return nil, fmt.Errorf("simctl %s: %w: %s", args[0], err, msg)
	}
	return stdout, nil
}

// simctlDevicesOutput represents the JSON output from xcrun simctl list devices.
type simctlDevicesOutput struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

type simctlDevice struct {
	Name        string `json:"name"`
	UDID        string `json:"udid"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
}

var runtimeVersionRe = regexp.MustCompile(`SimRuntime\.iOS-(\d+)-(\d+)`)

// BootedSimulators returns the iOS simulators that are currently booted.
func (s *Simctl) BootedSimulators(ctx context.Context) ([]models.Device, error) {
	out, err := s.simctl(ctx, "list", "devices", "-j")
	if err != nil {
		return nil, err
	}
	return parseSimctlDevices(out)
}

func parseSimctlDevices(data []byte) ([]models.Device, error) {
	var parsed simctlDevicesOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse simctl output: %w", err)
	}

	var devices []models.Device
	for runtime, sims := range parsed.Devices {
		m := runtimeVersionRe.FindStringSubmatch(runtime)
		if m == nil {
			// watchOS / tvOS / visionOS runtimes
			continue
		}
		for _, sim := range sims {
			if !sim.IsAvailable || sim.State != "Booted" {
				continue
			}
			devices = append(devices, models.Device{
				ID:        sim.UDID,
				Name:      sim.Name,
				Platform:  models.PlatformIOS,
				Kind:      models.KindSimulator,
				Status:    models.StatusConnected,
				OSVersion: m[1] + "." + m[2],
				LastSeen:  time.Now().Unix(),
			})
		}
	}
	return devices, nil
}

// Screenshot captures the simulator screen as PNG.
func (s *Simctl) Screenshot(ctx context.Context, udid string) ([]byte, error) {
	return s.simctl(ctx, "io", udid, "screenshot", "--type=png", "-")
}

func (s *Simctl) Launch(ctx context.Context, udid, bundleID string) error {
	_, err := s.simctl(ctx, "launch", udid, bundleID)
	return err
}

func (s *Simctl) Terminate(ctx context.Context, udid, bundleID string) error {
	_, err := s.simctl(ctx, "terminate", udid, bundleID)
	return err
}

func (s *Simctl) Install(ctx context.Context, udid, path string) error {
	_, err := s.simctl(ctx, "install", udid, path)
	return err
}

func (s *Simctl) Uninstall(ctx context.Context, udid, bundleID string) error {
	_, err := s.simctl(ctx, "uninstall", udid, bundleID)
	return err
}

// ListApps returns installed apps, marking the ones launchd reports as running.
func (s *Simctl) ListApps(ctx context.Context, udid string) ([]models.App, error) {
	out, err := s.simctl(ctx, "listapps", udid)
	if err != nil {
		return nil, err
	}
	apps, err := parseListApps(out)
	if err != nil {
		return nil, err
	}

	if running, err := s.simctl(ctx, "spawn", udid, "launchctl", "list"); err == nil {
		set := parseLaunchctlApps(string(running))
		for i := range apps {
			apps[i].Running = set[apps[i].PackageName]
		}
	}
	return apps, nil
}

// parseListApps decodes the (OpenStep) plist printed by `simctl listapps`.
func parseListApps(data []byte) ([]models.App, error) {
	var raw map[string]map[string]interface{}
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse listapps output: %w", err)
	}

	apps := make([]models.App, 0, len(raw))
	for bundleID, info := range raw {
		name := bundleID
		for _, key := range []string{"CFBundleDisplayName", "CFBundleName"} {
			if v, ok := info[key].(string); ok && v != "" {
				name = v
				break
			}
		}
		apps = append(apps, models.App{PackageName: bundleID, AppName: name})
	}
	sortApps(apps)
	return apps, nil
}

var uikitAppRe = regexp.MustCompile(`UIKitApplication:([^\[\s]+)`)

func parseLaunchctlApps(output string) map[string]bool {
	set := make(map[string]bool)
	for _, m := range uikitAppRe.FindAllStringSubmatch(output, -1) {
		set[m[1]] = true
	}
	return set
}

// SimulatorEnumerator lists booted iOS simulators for the device directory.
type SimulatorEnumerator struct {
	Simctl *Simctl
}

func (e *SimulatorEnumerator) Name() string { return "ios-simulator" }

func (e *SimulatorEnumerator) ListDevices(ctx context.Context) ([]models.Device, error) {
	return e.Simctl.BootedSimulators(ctx)
}
