package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mobilecontrol/models"
)

// Gesture bodies may carry scale: x/y are then screenshot-image pixels.
type tapRequest struct {
	X     *float64 `json:"x" binding:"required"`
	Y     *float64 `json:"y" binding:"required"`
	Scale float64  `json:"scale" binding:"omitempty,gt=0"`
}

type longPressRequest struct {
	tapRequest
	Duration int `json:"duration" binding:"omitempty,gt=0"`
}

type swipeRequest struct {
	Direction string   `json:"direction" binding:"required,oneof=up down left right"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	Distance  float64  `json:"distance" binding:"omitempty,gt=0"`
	Duration  int      `json:"duration" binding:"omitempty,gt=0"`
	Scale     float64  `json:"scale" binding:"omitempty,gt=0"`
}

type keysRequest struct {
	Text string `json:"text" binding:"required"`
}

type buttonRequest struct {
	Button string `json:"button" binding:"required"`
}

// dispatch runs a command and maps a failed result to a status code.
func (h *Handlers) dispatch(c *gin.Context, command string, params map[string]interface{}) {
	result, err := h.dispatcher.Dispatch(c.Request.Context(), c.Param("id"), command, params)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResult{Success: result.Success, Message: result.Message})
}

func (req tapRequest) params() map[string]interface{} {
	p := map[string]interface{}{"x": *req.X, "y": *req.Y}
	if req.Scale > 0 {
		p["scale"] = req.Scale
	}
	return p
}

func (h *Handlers) Tap(c *gin.Context) {
	var req tapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.dispatch(c, models.CmdTap, req.params())
}

func (h *Handlers) LongPress(c *gin.Context) {
	var req longPressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	params := req.params()
	if req.Duration > 0 {
		params["duration"] = req.Duration
	}
	h.dispatch(c, models.CmdLongPress, params)
}

func (h *Handlers) Swipe(c *gin.Context) {
	var req swipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	command := models.CmdSwipe
	params := map[string]interface{}{"direction": req.Direction}
	if req.X != nil || req.Y != nil {
		if req.X == nil || req.Y == nil {
			c.JSON(http.StatusBadRequest, models.ErrorWithMessage("Invalid request", "x and y must be given together"))
			return
		}
		command = models.CmdSwipeFromCoordinate
		params["x"], params["y"] = *req.X, *req.Y
	}
	if req.Distance > 0 {
		params["distance"] = req.Distance
	}
	if req.Duration > 0 {
		params["duration"] = req.Duration
	}
	if req.Scale > 0 {
		params["scale"] = req.Scale
	}
	h.dispatch(c, command, params)
}

func (h *Handlers) SendKeys(c *gin.Context) {
	var req keysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.dispatch(c, models.CmdSendKeys, map[string]interface{}{"text": req.Text})
}

func (h *Handlers) PressButton(c *gin.Context) {
	var req buttonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.dispatch(c, models.CmdPressButton, map[string]interface{}{"button": req.Button})
}
