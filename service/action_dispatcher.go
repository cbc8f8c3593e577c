package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"mobilecontrol/models"
	"mobilecontrol/robot"
)

const (
	defaultLongPressMs   = 500
	defaultSwipeMs       = 300
	defaultSwipeFraction = 0.4

	// Largest coordinate, distance or duration accepted from a caller.
	maxParamValue = math.MaxInt32
)

// ErrUnknownCommand marks a name outside the command set.
var ErrUnknownCommand = errors.New("unknown command")

// ValidationError is a malformed or missing command parameter.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalidf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

var commandAliases = map[string]string{
	"tap":                 models.CmdTap,
	"longpress":           models.CmdLongPress,
	"doubletap":           models.CmdDoubleTap,
	"swipe":               models.CmdSwipe,
	"swipefromcoordinate": models.CmdSwipeFromCoordinate,
	"sendkeys":            models.CmdSendKeys,
	"type":                models.CmdSendKeys,
	"pressbutton":         models.CmdPressButton,
}

// CanonicalCommand maps a command name or alias (long-press, send_keys,
// PRESSBUTTON...) to its canonical name.
func CanonicalCommand(name string) (string, bool) {
	key := strings.ToLower(name)
	key = strings.NewReplacer("-", "", "_", "").Replace(key)
	canonical, ok := commandAliases[key]
	return canonical, ok
}

// ActionDispatcher executes single commands against devices. It never
// returns an error: every failure becomes a CommandResult.
type ActionDispatcher struct {
	deviceManager *DeviceManager
	broadcaster   Broadcaster
	history       *HistoryStore // optional
}

func NewActionDispatcher(dm *DeviceManager, broadcaster Broadcaster, history *HistoryStore) *ActionDispatcher {
	return &ActionDispatcher{
		deviceManager: dm,
		broadcaster:   broadcaster,
		history:       history,
	}
}

// Execute runs one command and publishes its command_result.
func (d *ActionDispatcher) Execute(ctx context.Context, deviceID, name string, params map[string]interface{}) models.CommandResult {
	result, _ := d.Dispatch(ctx, deviceID, name, params)
	return result
}

// Dispatch is Execute that also returns the cause of a failed result, for
// callers that map failures to status codes.
func (d *ActionDispatcher) Dispatch(ctx context.Context, deviceID, name string, params map[string]interface{}) (result models.CommandResult, cause error) {
	if params == nil {
		params = map[string]interface{}{}
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("device", deviceID).Errorf("Command %s panicked: %v", name, r)
			cause = fmt.Errorf("command %s panicked: %v", name, r)
			result = models.Failure(fmt.Sprint(r))
		}
		d.publish(deviceID, name, params, result)
	}()

	r, device, err := d.deviceManager.GetRobot(deviceID)
	if err != nil {
		return failureFor(deviceID, err), err
	}

	canonical, ok := CanonicalCommand(name)
	if !ok {
		err := invalidf("%s: %s", ErrUnknownCommand, name)
		return models.Failure(err.Error()), err
	}

	message, err := d.executeAction(ctx, r, device, canonical, params)
	if err != nil {
		log.WithField("device", deviceID).Warnf("Command %s failed: %v", canonical, err)
		return failureFor(deviceID, err), err
	}
	return models.CommandResult{Success: true, Message: message}, nil
}

func failureFor(deviceID string, err error) models.CommandResult {
	if errors.Is(err, ErrDeviceNotFound) {
		return models.Failure("Device not found: " + deviceID)
	}
	return models.Failure(err.Error())
}

func (d *ActionDispatcher) publish(deviceID, name string, params map[string]interface{}, result models.CommandResult) {
	event := models.CommandResultEvent{
		DeviceID:  deviceID,
		Command:   name,
		Params:    params,
		Result:    result,
		Timestamp: models.Now(),
	}
	if d.broadcaster != nil {
		d.broadcaster.Broadcast(models.Event{Type: models.EventCommandResult, Data: event})
	}
	if d.history != nil {
		if err := d.history.Record(event); err != nil {
			log.WithField("device", deviceID).Warnf("Failed to record command history: %v", err)
		}
	}
}

// executeAction validates params and calls the robot.
func (d *ActionDispatcher) executeAction(ctx context.Context, r robot.Robot, device *models.Device, command string, params map[string]interface{}) (string, error) {
	switch command {
	case models.CmdTap:
		x, y, err := pointParam(params)
		if err != nil {
			return "", err
		}
		if err := r.Tap(ctx, x, y); err != nil {
			return "", err
		}
		return fmt.Sprintf("Tapped at (%d, %d)", x, y), nil

	case models.CmdDoubleTap:
		x, y, err := pointParam(params)
		if err != nil {
			return "", err
		}
		if err := r.DoubleTap(ctx, x, y); err != nil {
			return "", err
		}
		return fmt.Sprintf("Double tapped at (%d, %d)", x, y), nil

	case models.CmdLongPress:
		x, y, err := pointParam(params)
		if err != nil {
			return "", err
		}
		duration, err := optionalIntParam(params, "duration", defaultLongPressMs)
		if err != nil {
			return "", err
		}
		if err := r.LongPress(ctx, x, y, duration); err != nil {
			return "", err
		}
		return fmt.Sprintf("Long pressed at (%d, %d) for %dms", x, y, duration), nil

	case models.CmdSwipe, models.CmdSwipeFromCoordinate:
		return d.swipe(ctx, r, device, command, params)

	case models.CmdSendKeys:
		text, err := stringParam(params, "text")
		if err != nil {
			return "", err
		}
		if err := r.SendKeys(ctx, text); err != nil {
			return "", err
		}
		return fmt.Sprintf("Sent %d characters", len([]rune(text))), nil

	case models.CmdPressButton:
		button, err := stringParam(params, "button")
		if err != nil {
			return "", err
		}
		if !robot.IsButton(button) {
			return "", invalidf("Invalid button %q, expected one of: %s", button, strings.Join(robot.Buttons, ", "))
		}
		if err := r.PressButton(ctx, button); err != nil {
			return "", err
		}
		return "Pressed " + button, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
}

// swipe handles both swipe forms. swipe may omit the start point (screen
// centre); both may omit distance (a fraction of the screen along the axis).
func (d *ActionDispatcher) swipe(ctx context.Context, r robot.Robot, device *models.Device, command string, params map[string]interface{}) (string, error) {
	direction, err := stringParam(params, "direction")
	if err != nil {
		return "", err
	}
	direction = strings.ToLower(direction)
	if direction != "up" && direction != "down" && direction != "left" && direction != "right" {
		return "", invalidf("Invalid direction %q, expected up, down, left or right", direction)
	}
	duration, err := optionalIntParam(params, "duration", defaultSwipeMs)
	if err != nil {
		return "", err
	}

	_, hasX := params["x"]
	_, hasY := params["y"]
	_, hasDistance := params["distance"]
	needStart := command == models.CmdSwipeFromCoordinate || hasX || hasY

	screen := device.Screen
	if screen != nil && (screen.Width <= 0 || screen.Height <= 0) {
		screen = nil
	}
	if screen == nil && (!needStart || !hasDistance) {
		if screen, err = r.ScreenSize(ctx); err != nil {
			return "", fmt.Errorf("failed to read screen size: %w", err)
		}
	}

	var x, y int
	if needStart {
		if x, y, err = pointParam(params); err != nil {
			return "", err
		}
	} else {
		x, y = screen.Width/2, screen.Height/2
	}

	var distance int
	if hasDistance {
		if distance, err = distanceParam(params); err != nil {
			return "", err
		}
	} else if direction == "up" || direction == "down" {
		distance = int(float64(screen.Height) * defaultSwipeFraction)
	} else {
		distance = int(float64(screen.Width) * defaultSwipeFraction)
	}

	x2, y2 := x, y
	switch direction {
	case "up":
		y2 = y - distance
	case "down":
		y2 = y + distance
	case "left":
		x2 = x - distance
	case "right":
		x2 = x + distance
	}
	if screen != nil {
		x2 = clamp(x2, 0, screen.Width-1)
		y2 = clamp(y2, 0, screen.Height-1)
	} else {
		x2, y2 = max(x2, 0), max(y2, 0)
	}

	if err := r.Swipe(ctx, x, y, x2, y2, duration); err != nil {
		return "", err
	}
	return fmt.Sprintf("Swiped %s from (%d, %d) to (%d, %d)", direction, x, y, x2, y2), nil
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// pointParam reads x and y; an optional positive scale means they are
// screenshot-image coordinates and are mapped to device coordinates.
func pointParam(params map[string]interface{}) (int, int, error) {
	x, err := numberParam(params, "x")
	if err != nil {
		return 0, 0, err
	}
	y, err := numberParam(params, "y")
	if err != nil {
		return 0, 0, err
	}
	scale, err := scaleParam(params)
	if err != nil {
		return 0, 0, err
	}
	p := ToDevicePoint(Point{X: x, Y: y}, scale)
	if p.X < 0 || p.Y < 0 {
		return 0, 0, invalidf("Coordinates must not be negative")
	}
	if p.X > maxParamValue || p.Y > maxParamValue {
		return 0, 0, invalidf("Coordinates out of range")
	}
	return int(math.Round(p.X)), int(math.Round(p.Y)), nil
}

// scaleParam returns the optional image-to-device scale, 1 when absent.
func scaleParam(params map[string]interface{}) (float64, error) {
	if v, ok := params["scale"]; !ok || v == nil {
		return 1, nil
	}
	scale, err := numberParam(params, "scale")
	if err != nil {
		return 0, err
	}
	if scale <= 0 {
		return 0, invalidf("scale must be positive")
	}
	return scale, nil
}

// distanceParam reads a swipe distance, in image space when scale is set.
func distanceParam(params map[string]interface{}) (int, error) {
	n, err := numberParam(params, "distance")
	if err != nil {
		return 0, err
	}
	scale, err := scaleParam(params)
	if err != nil {
		return 0, err
	}
	return toInt("distance", n/scale)
}

// numberParam accepts JSON numbers and numeric strings.
func numberParam(params map[string]interface{}, key string) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, invalidf("Missing required parameter: %s", key)
	}
	var (
		n   float64
		err error
	)
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case json.Number:
		n, err = t.Float64()
	case string:
		n, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, invalidf("Parameter %s must be a number", key)
	}
	return n, nil
}

func intParam(params map[string]interface{}, key string) (int, error) {
	n, err := numberParam(params, key)
	if err != nil {
		return 0, err
	}
	return toInt(key, n)
}

// toInt rounds a positive parameter, rejecting values no gesture can use.
func toInt(key string, n float64) (int, error) {
	if n <= 0 {
		return 0, invalidf("%s must be positive", key)
	}
	if n > maxParamValue {
		return 0, invalidf("%s out of range", key)
	}
	return int(math.Round(n)), nil
}

func optionalIntParam(params map[string]interface{}, key string, def int) (int, error) {
	if v, ok := params[key]; !ok || v == nil {
		return def, nil
	}
	return intParam(params, key)
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", invalidf("Missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidf("Parameter %s must be a string", key)
	}
	if s == "" {
		return "", invalidf("Parameter %s must not be empty", key)
	}
	return s, nil
}
