package robot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"mobilecontrol/models"
)

// WDAClient is an HTTP client for WebDriverAgent. The session is created on
// first use and shared by every robot pointed at the same agent.
type WDAClient struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
}

func NewWDAClient(baseURL string) *WDAClient {
	return &WDAClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// wdaError is an error reported by WDA itself (as opposed to a transport failure).
type wdaError struct {
	Code    string
	Message string
}

func (e *wdaError) Error() string { return e.Message }

func (c *WDAClient) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return c.sessionID, nil
	}

	body := map[string]interface{}{
		"capabilities": map[string]interface{}{"alwaysMatch": map[string]interface{}{}},
	}
	resp, err := c.do(ctx, http.MethodPost, "/session", body)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	if value, ok := resp["value"].(map[string]interface{}); ok {
		if id, ok := value["sessionId"].(string); ok {
			c.sessionID = id
		}
	}
	if c.sessionID == "" {
		if id, ok := resp["sessionId"].(string); ok {
			c.sessionID = id
		}
	}
	if c.sessionID == "" {
		return "", errors.New("failed to create session: no session id in response")
	}
	return c.sessionID, nil
}

func (c *WDAClient) sessionPost(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	id, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/session/"+id+path, body)
	var we *wdaError
	if errors.As(err, &we) && we.Code == "invalid session id" {
		// WDA restarted; drop the stale session and retry once.
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
		if id, err = c.session(ctx); err != nil {
			return nil, err
		}
		return c.do(ctx, http.MethodPost, "/session/"+id+path, body)
	}
	return resp, err
}

func (c *WDAClient) do(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ActionableError{
			Message: "WebDriverAgent is not reachable at " + c.baseURL + "; make sure it is running on the device",
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse WDA response: %w (status %d)", err, resp.StatusCode)
	}

	if value, ok := result["value"].(map[string]interface{}); ok {
		if code, ok := value["error"].(string); ok {
			message := code
			if msg, ok := value["message"].(string); ok && msg != "" {
				message = msg
			}
			return nil, &wdaError{Code: code, Message: message}
		}
	}
	return result, nil
}

func (c *WDAClient) Tap(ctx context.Context, x, y float64) error {
	_, err := c.sessionPost(ctx, "/wda/tap", map[string]interface{}{"x": x, "y": y})
	return err
}

func (c *WDAClient) DoubleTap(ctx context.Context, x, y float64) error {
	_, err := c.sessionPost(ctx, "/wda/doubleTap", map[string]interface{}{"x": x, "y": y})
	return err
}

func (c *WDAClient) LongPress(ctx context.Context, x, y, durationSec float64) error {
	_, err := c.sessionPost(ctx, "/wda/touchAndHold", map[string]interface{}{"x": x, "y": y, "duration": durationSec})
	return err
}

func (c *WDAClient) Swipe(ctx context.Context, fromX, fromY, toX, toY, durationSec float64) error {
	_, err := c.sessionPost(ctx, "/wda/dragfromtoforduration", map[string]interface{}{
		"fromX": fromX, "fromY": fromY, "toX": toX, "toY": toY, "duration": durationSec,
	})
	return err
}

func (c *WDAClient) SendKeys(ctx context.Context, text string) error {
	_, err := c.sessionPost(ctx, "/wda/keys", map[string]interface{}{"value": strings.Split(text, "")})
	return err
}

// PressButton presses a hardware button (home, volumeUp, volumeDown).
func (c *WDAClient) PressButton(ctx context.Context, name string) error {
	_, err := c.sessionPost(ctx, "/wda/pressButton", map[string]interface{}{"name": name})
	return err
}

func (c *WDAClient) LaunchApp(ctx context.Context, bundleID string) error {
	_, err := c.sessionPost(ctx, "/wda/apps/launch", map[string]interface{}{"bundleId": bundleID})
	return err
}

func (c *WDAClient) TerminateApp(ctx context.Context, bundleID string) error {
	_, err := c.sessionPost(ctx, "/wda/apps/terminate", map[string]interface{}{"bundleId": bundleID})
	return err
}

func (c *WDAClient) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/screenshot", nil)
	if err != nil {
		return nil, err
	}
	if value, ok := resp["value"].(string); ok {
		return base64.StdEncoding.DecodeString(value)
	}
	return nil, errors.New("invalid screenshot response")
}

// WindowSize returns the screen size in points and the pixel scale.
func (c *WDAClient) WindowSize(ctx context.Context) (*models.ScreenSize, error) {
	id, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodGet, "/session/"+id+"/window/size", nil)
	if err != nil {
		return nil, err
	}
	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return nil, errors.New("invalid window size response")
	}
	size := &models.ScreenSize{Scale: 1}
	if w, ok := value["width"].(float64); ok {
		size.Width = int(w)
	}
	if h, ok := value["height"].(float64); ok {
		size.Height = int(h)
	}

	if resp, err := c.do(ctx, http.MethodGet, "/wda/screen", nil); err == nil {
		if v, ok := resp["value"].(map[string]interface{}); ok {
			if s, ok := v["scale"].(float64); ok && s > 0 {
				size.Scale = s
			}
		}
	}
	return size, nil
}

func (c *WDAClient) GetOrientation(ctx context.Context) (string, error) {
	id, err := c.session(ctx)
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, http.MethodGet, "/session/"+id+"/orientation", nil)
	if err != nil {
		return "", err
	}
	if value, ok := resp["value"].(string); ok {
		return strings.ToLower(value), nil
	}
	return "", errors.New("invalid orientation response")
}

func (c *WDAClient) SetOrientation(ctx context.Context, orientation string) error {
	_, err := c.sessionPost(ctx, "/orientation", map[string]interface{}{"orientation": strings.ToUpper(orientation)})
	return err
}

type wdaNode struct {
	Type     string    `json:"type"`
	Label    string    `json:"label"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Rect     wdaRect   `json:"rect"`
	Children []wdaNode `json:"children"`
}

type wdaRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Elements returns the flattened accessibility tree.
func (c *WDAClient) Elements(ctx context.Context) ([]models.Element, error) {
	resp, err := c.do(ctx, http.MethodGet, "/source?format=json", nil)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(resp["value"])
	if err != nil {
		return nil, err
	}
	var root wdaNode
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("invalid source response: %w", err)
	}

	elements := []models.Element{}
	var walk func(n wdaNode)
	walk = func(n wdaNode) {
		if (n.Label != "" || n.Name != "" || n.Value != "") && n.Rect.Width > 0 && n.Rect.Height > 0 {
			elements = append(elements, models.Element{
				Type:       n.Type,
				Text:       n.Value,
				Label:      n.Label,
				Identifier: n.Name,
				Rect: models.Rect{
					X: int(n.Rect.X), Y: int(n.Rect.Y),
					Width: int(n.Rect.Width), Height: int(n.Rect.Height),
				},
			})
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return elements, nil
}
