package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

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

// CommandError carries the stderr of a failed adb invocation.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("adb %s: %v: %s", strings.Join(e.Args, " "), e.Err, e.Stderr)
	}
	return fmt.Sprintf("adb %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// IsDeviceUnavailable reports whether adb refused the call because the
// device is gone, offline or unauthorized.
func IsDeviceUnavailable(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	s := strings.ToLower(ce.Stderr)
	return strings.Contains(s, "not found") ||
		strings.Contains(s, "offline") ||
		strings.Contains(s, "unauthorized")
}

// ADBClient wraps ADB command execution
type ADBClient struct {
	ADBPath string
	run     Runner
}

// NewADBClient creates a new ADB client. An empty path means "adb" from PATH.
func NewADBClient(path string) *ADBClient {
	if path == "" {
		path = "adb"
	}
	return &ADBClient{ADBPath: path, run: execRunner}
}

// NewADBClientWithRunner is NewADBClient with a custom process runner.
func NewADBClientWithRunner(path string, run Runner) *ADBClient {
	c := NewADBClient(path)
	c.run = run
	return c
}

func (c *ADBClient) adb(ctx context.Context, args ...string) ([]byte, error) {
	stdout, stderr, err := c.run(ctx, c.ADBPath, args...)
	if err != nil {
		return stdout, &CommandError{Args: args, Stderr: strings.TrimSpace(string(stderr)), Err: err}
	}
	return stdout, nil
}

func (c *ADBClient) shell(ctx context.Context, serial string, args ...string) ([]byte, error) {
	return c.adb(ctx, append([]string{"-s", serial, "shell"}, args...)...)
}

// ListDevices returns the Android devices adb reports as online.
// If the same physical device is connected via both USB and WiFi, WiFi is preferred.
func (c *ADBClient) ListDevices(ctx context.Context) ([]models.Device, error) {
	output, err := c.adb(ctx, "devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := parseDeviceList(string(output))
	for i := range devices {
		c.enrichDeviceInfo(ctx, &devices[i])
	}
	return c.deduplicateDevices(ctx, devices), nil
}

// IsEmulatorSerial reports whether an adb serial names an emulator.
func IsEmulatorSerial(serial string) bool {
	return strings.HasPrefix(serial, "emulator-")
}

// parseDeviceList parses the output of 'adb devices -l'
func parseDeviceList(output string) []models.Device {
	var devices []models.Device

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		// Expected format: <serial> <state> [device info]
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		serial, state := parts[0], parts[1]

		if state != "device" {
			log.WithFields(log.Fields{"serial": serial, "state": state}).Debug("Skipping adb device")
			continue
		}

		device := models.Device{
			ID:       serial,
			Name:     serial,
			Platform: models.PlatformAndroid,
			Kind:     models.KindReal,
			Status:   models.StatusConnected,
			LastSeen: time.Now().Unix(),
		}
		if IsEmulatorSerial(serial) {
			device.Kind = models.KindEmulator
		}

		for _, part := range parts[2:] {
			if strings.HasPrefix(part, "model:") {
				device.Name = strings.ReplaceAll(strings.TrimPrefix(part, "model:"), "_", " ")
			}
		}

		devices = append(devices, device)
	}

	return devices
}

// enrichDeviceInfo fills version and screen geometry; failures are logged only.
func (c *ADBClient) enrichDeviceInfo(ctx context.Context, device *models.Device) {
	if version, err := c.getProperty(ctx, device.ID, "ro.build.version.release"); err == nil {
		device.OSVersion = version
	}
	if size, err := c.ScreenSize(ctx, device.ID); err == nil {
		device.Screen = size
	} else {
		log.WithField("device", device.ID).Warnf("Failed to read screen size: %v", err)
	}
	if o, err := c.GetOrientation(ctx, device.ID); err == nil {
		device.Orientation = o
	}
}

// isWiFiConnection checks if the serial is a WiFi connection (IP:port format)
func isWiFiConnection(serial string) bool {
	return strings.Contains(serial, ":")
}

// deduplicateDevices removes duplicate entries when the same device is
// connected via USB and WiFi. WiFi connections are preferred; order is kept.
func (c *ADBClient) deduplicateDevices(ctx context.Context, devices []models.Device) []models.Device {
	index := make(map[string]int)
	result := make([]models.Device, 0, len(devices))

	for _, d := range devices {
		hwSerial := d.ID
		if isWiFiConnection(d.ID) || !IsEmulatorSerial(d.ID) {
			if s, err := c.getProperty(ctx, d.ID, "ro.serialno"); err == nil && s != "" {
				hwSerial = s
			}
		}

		i, exists := index[hwSerial]
		if !exists {
			index[hwSerial] = len(result)
			result = append(result, d)
			continue
		}
		if isWiFiConnection(d.ID) && !isWiFiConnection(result[i].ID) {
			result[i] = d
		}
	}

	if len(result) != len(devices) {
		log.Debugf("Dedup: %d devices (from %d raw)", len(result), len(devices))
	}
	return result
}

// getProperty gets a system property from the device
func (c *ADBClient) getProperty(ctx context.Context, serial, property string) (string, error) {
	out, err := c.shell(ctx, serial, "getprop", property)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ScreenSize reads the display size (override wins over physical) and density.
func (c *ADBClient) ScreenSize(ctx context.Context, serial string) (*models.ScreenSize, error) {
	out, err := c.shell(ctx, serial, "wm", "size")
	if err != nil {
		return nil, err
	}
	w, h, err := parseWMSize(string(out))
	if err != nil {
		return nil, err
	}

	size := &models.ScreenSize{Width: w, Height: h, Scale: 1}
	if out, err := c.shell(ctx, serial, "wm", "density"); err == nil {
		if dpi := parseWMDensity(string(out)); dpi > 0 {
			size.Scale = float64(dpi) / 160
		}
	}
	return size, nil
}

func parseWMSize(output string) (int, int, error) {
	var physical, override string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "Physical size:"); ok {
			physical = strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "Override size:"); ok {
			override = strings.TrimSpace(v)
		}
	}
	size := physical
	if override != "" {
		size = override
	}
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return 0, 0, fmt.Errorf("unexpected wm size output: %q", strings.TrimSpace(output))
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("unexpected wm size output: %q", strings.TrimSpace(output))
	}
	return width, height, nil
}

func parseWMDensity(output string) int {
	dpi := 0
	for _, line := range strings.Split(output, "\n") {
		_, v, ok := strings.Cut(line, "density:")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			// Override density appears after physical and wins.
			dpi = n
		}
	}
	return dpi
}

// ScreenCapture captures the device screen and returns PNG bytes
func (c *ADBClient) ScreenCapture(ctx context.Context, serial string) ([]byte, error) {
	out, err := c.adb(ctx, "-s", serial, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screencap failed: %w", err)
	}
	return out, nil
}

// SendTap sends a tap event to the device
func (c *ADBClient) SendTap(ctx context.Context, serial string, x, y int) error {
	if _, err := c.shell(ctx, serial, "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return fmt.Errorf("tap failed: %w", err)
	}
	return nil
}

// SendSwipe sends a swipe gesture. A swipe with equal endpoints is a long press.
func (c *ADBClient) SendSwipe(ctx context.Context, serial string, x1, y1, x2, y2, durationMs int) error {
	_, err := c.shell(ctx, serial, "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1),
		strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.Itoa(durationMs))
	if err != nil {
		return fmt.Errorf("swipe failed: %w", err)
	}
	return nil
}

// SendText sends text input to the device
func (c *ADBClient) SendText(ctx context.Context, serial, text string) error {
	if _, err := c.shell(ctx, serial, "input", "text", EscapeInputText(text)); err != nil {
		return fmt.Errorf("text input failed: %w", err)
	}
	return nil
}

// EscapeInputText escapes text for `input text`: spaces become %s and shell
// metacharacters are backslash-escaped.
func EscapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == ' ':
			b.WriteString("%s")
		case strings.ContainsRune(`()<>|;&*\~"'$`+"`", r):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SendKey sends a key event to the device
func (c *ADBClient) SendKey(ctx context.Context, serial string, keycode int) error {
	if _, err := c.shell(ctx, serial, "input", "keyevent", strconv.Itoa(keycode)); err != nil {
		return fmt.Errorf("key event failed: %w", err)
	}
	return nil
}

// InstallAPK installs (or reinstalls) an APK on the device
func (c *ADBClient) InstallAPK(ctx context.Context, serial, apkPath string) error {
	out, err := c.adb(ctx, "-s", serial, "install", "-r", apkPath)
	if err != nil {
		return fmt.Errorf("apk install failed: %w", err)
	}
	if s := string(out); strings.Contains(s, "Failure") {
		return fmt.Errorf("apk install failed: %s", strings.TrimSpace(s))
	}
	return nil
}

// UninstallPackage removes a package from the device
func (c *ADBClient) UninstallPackage(ctx context.Context, serial, pkg string) error {
	out, err := c.adb(ctx, "-s", serial, "uninstall", pkg)
	if err != nil {
		return fmt.Errorf("uninstall failed: %w", err)
	}
	if s := string(out); strings.Contains(s, "Failure") {
		return fmt.Errorf("uninstall failed: %s", strings.TrimSpace(s))
	}
	return nil
}

// OpenApp opens an app by package name
func (c *ADBClient) OpenApp(ctx context.Context, serial, pkg string) error {
	out, err := c.shell(ctx, serial, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return fmt.Errorf("app launch failed: %w", err)
	}
	if strings.Contains(string(out), "No activities found") {
		return fmt.Errorf("app launch failed: no launchable activity in %s", pkg)
	}
	return nil
}

// ForceStop terminates an app by package name
func (c *ADBClient) ForceStop(ctx context.Context, serial, pkg string) error {
	if _, err := c.shell(ctx, serial, "am", "force-stop", pkg); err != nil {
		return fmt.Errorf("app terminate failed: %w", err)
	}
	return nil
}

// ListPackages returns every installed package name.
func (c *ADBClient) ListPackages(ctx context.Context, serial string) ([]string, error) {
	out, err := c.shell(ctx, serial, "pm", "list", "packages")
	if err != nil {
		return nil, fmt.Errorf("list packages failed: %w", err)
	}
	var pkgs []string
	for _, line := range strings.Split(string(out), "\n") {
		if p, ok := strings.CutPrefix(strings.TrimSpace(line), "package:"); ok && p != "" {
			pkgs = append(pkgs, p)
		}
	}
	return pkgs, nil
}

// RunningProcesses returns the set of process names currently running.
func (c *ADBClient) RunningProcesses(ctx context.Context, serial string) (map[string]bool, error) {
	out, err := c.shell(ctx, serial, "ps", "-A", "-o", "NAME")
	if err != nil {
		return nil, fmt.Errorf("ps failed: %w", err)
	}
	running := make(map[string]bool)
	for _, line := range strings.Split(string(out), "\n") {
		if name := strings.TrimSpace(line); name != "" && name != "NAME" {
			running[name] = true
		}
	}
	return running, nil
}

// GetOrientation returns "portrait" or "landscape".
func (c *ADBClient) GetOrientation(ctx context.Context, serial string) (string, error) {
	out, err := c.shell(ctx, serial, "dumpsys", "input")
	if err != nil {
		return "", fmt.Errorf("orientation query failed: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		_, v, ok := strings.Cut(line, "SurfaceOrientation:")
		if !ok {
			continue
		}
		switch strings.TrimSpace(v) {
		case "1", "3":
			return "landscape", nil
		default:
			return "portrait", nil
		}
	}
	return "portrait", nil
}

// SetOrientation locks rotation and sets it to portrait or landscape.
func (c *ADBClient) SetOrientation(ctx context.Context, serial, orientation string) error {
	rotation := "0"
	if orientation == "landscape" {
		rotation = "1"
	}
	if _, err := c.shell(ctx, serial, "settings", "put", "system", "accelerometer_rotation", "0"); err != nil {
		return fmt.Errorf("set orientation failed: %w", err)
	}
	if _, err := c.shell(ctx, serial, "settings", "put", "system", "user_rotation", rotation); err != nil {
		return fmt.Errorf("set orientation failed: %w", err)
	}
	return nil
}

// DumpUI returns the raw uiautomator XML hierarchy.
func (c *ADBClient) DumpUI(ctx context.Context, serial string) ([]byte, error) {
	out, err := c.adb(ctx, "-s", serial, "exec-out", "uiautomator", "dump", "/dev/tty")
	if err != nil {
		return nil, fmt.Errorf("ui dump failed: %w", err)
	}
	// uiautomator appends "UI hierchary dumped to: /dev/tty" after the XML
	if i := bytes.LastIndex(out, []byte("</hierarchy>")); i >= 0 {
		out = out[:i+len("</hierarchy>")]
	}
	return out, nil
}
