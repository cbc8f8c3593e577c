package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"mobilecontrol/models"
)

// positionalParams maps shorthand tokens after the command name to params.
var positionalParams = map[string][]string{
	models.CmdTap:                 {"x", "y"},
	models.CmdDoubleTap:           {"x", "y"},
	models.CmdLongPress:           {"x", "y", "duration"},
	models.CmdSwipe:               {"direction", "x", "y", "distance"},
	models.CmdSwipeFromCoordinate: {"x", "y", "direction", "distance"},
	models.CmdPressButton:         {"button"},
}

// restParams take the remaining tokens, rejoined with single spaces.
var restParams = map[string]string{
	models.CmdSendKeys: "text",
}

type scriptLine struct {
	number int
	text   string
}

func scriptLines(text string) []scriptLine {
	var lines []scriptLine
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		lines = append(lines, scriptLine{number: i + 1, text: line})
	}
	return lines
}

// ParseScript parses every line of a script. Each line is tried as a JSON
// object first and as shorthand second.
func ParseScript(text string) ([]models.Command, error) {
	var commands []models.Command
	for _, line := range scriptLines(text) {
		cmd, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

func parseLine(line scriptLine) (models.Command, error) {
	if cmd, ok := parseStructured(line.text); ok {
		return cmd, nil
	}
	cmd, err := parseShorthand(line.text)
	if err != nil {
		return models.Command{}, fmt.Errorf("line %d: %w", line.number, err)
	}
	return cmd, nil
}

func parseStructured(text string) (models.Command, bool) {
	if !strings.HasPrefix(text, "{") {
		return models.Command{}, false
	}
	var raw struct {
		Command *string                `json:"command"`
		Params  map[string]interface{} `json:"params"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil || raw.Command == nil || *raw.Command == "" {
		return models.Command{}, false
	}
	if raw.Params == nil {
		raw.Params = map[string]interface{}{}
	}
	return models.Command{Name: *raw.Command, Params: raw.Params}, true
}

func parseShorthand(text string) (models.Command, error) {
	fields := strings.Fields(text)
	name := fields[0]
	canonical, ok := CanonicalCommand(name)
	if !ok {
		return models.Command{}, fmt.Errorf("unknown command %q", name)
	}

	params := map[string]interface{}{}
	if key, ok := restParams[canonical]; ok {
		if len(fields) > 1 {
			params[key] = strings.Join(fields[1:], " ")
		}
		return models.Command{Name: name, Params: params}, nil
	}

	names := positionalParams[canonical]
	args := fields[1:]
	if len(args) > len(names) {
		return models.Command{}, fmt.Errorf("%s takes at most %d arguments (%s), got %d",
			name, len(names), strings.Join(names, ", "), len(args))
	}
	for i, arg := range args {
		params[names[i]] = shorthandValue(arg)
	}
	return models.Command{Name: name, Params: params}, nil
}

func shorthandValue(token string) interface{} {
	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return n
	}
	return token
}

type scriptRun struct {
	deviceID string
	cancel   context.CancelFunc
}

// ScriptEngine runs scripts through the dispatcher, one command at a time.
type ScriptEngine struct {
	dispatcher *ActionDispatcher

	mu   sync.Mutex
	runs map[string]*scriptRun
}

func NewScriptEngine(dispatcher *ActionDispatcher) *ScriptEngine {
	return &ScriptEngine{
		dispatcher: dispatcher,
		runs:       make(map[string]*scriptRun),
	}
}

// ExecuteScript parses and executes line by line and stops after the first
// failed command. Results carry their zero-based index; a parse error or an
// abort ends the list with one failure result.
func (e *ScriptEngine) ExecuteScript(ctx context.Context, deviceID, text string) []models.CommandResult {
	ctx, cancel := context.WithCancel(ctx)
	runID := e.track(deviceID, cancel)
	defer e.untrack(runID)

	logger := log.WithFields(log.Fields{"device": deviceID, "run": runID})
	results := []models.CommandResult{}

	for _, line := range scriptLines(text) {
		index := len(results)

		cmd, err := parseLine(line)
		if err != nil {
			logger.Warnf("Script parse error: %v", err)
			results = append(results, annotate(models.Failure(err.Error()), index, "", nil))
			break
		}
		if ctx.Err() != nil {
			logger.Info("Script aborted")
			results = append(results, annotate(models.Failure("Script aborted"), index, cmd.Name, cmd.Params))
			break
		}

		result := e.dispatcher.Execute(ctx, deviceID, cmd.Name, cmd.Params)
		results = append(results, annotate(result, index, cmd.Name, cmd.Params))
		if !result.Success {
			break
		}
	}

	logger.Debugf("Script finished with %d results", len(results))
	return results
}

// Abort cancels every script running on a device and reports how many were
// running.
func (e *ScriptEngine) Abort(deviceID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, run := range e.runs {
		if run.deviceID == deviceID {
			run.cancel()
			n++
		}
	}
	return n
}

func (e *ScriptEngine) track(deviceID string, cancel context.CancelFunc) string {
	id := uuid.NewString()
	e.mu.Lock()
	e.runs[id] = &scriptRun{deviceID: deviceID, cancel: cancel}
	e.mu.Unlock()
	return id
}

func (e *ScriptEngine) untrack(id string) {
	e.mu.Lock()
	run, ok := e.runs[id]
	delete(e.runs, id)
	e.mu.Unlock()
	if ok {
		run.cancel()
	}
}

func annotate(result models.CommandResult, index int, command string, params map[string]interface{}) models.CommandResult {
	i := index
	result.Index = &i
	result.Command = command
	result.Params = params
	return result
}
