package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"mobilecontrol/models"
	"mobilecontrol/robot"
	"mobilecontrol/service"
)

// Handlers serves the REST API.
type Handlers struct {
	deviceManager *service.DeviceManager
	dispatcher    *service.ActionDispatcher
	scripts       *service.ScriptEngine
	history       *service.HistoryStore // nil when history is disabled
}

func NewHandlers(dm *service.DeviceManager, dispatcher *service.ActionDispatcher, scripts *service.ScriptEngine, history *service.HistoryStore) *Handlers {
	return &Handlers{
		deviceManager: dm,
		dispatcher:    dispatcher,
		scripts:       scripts,
		history:       history,
	}
}

// respondError maps err onto the error taxonomy.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var (
		actionable *robot.ActionableError
		validation *service.ValidationError
	)
	switch {
	case errors.Is(err, service.ErrDeviceNotFound):
		h.deviceNotFound(c)
	case errors.As(err, &actionable):
		c.JSON(http.StatusBadRequest, models.ErrorResponse(actionable.Message))
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, models.ErrorResponse(validation.Message))
	default:
		log.WithField("path", c.FullPath()).Errorf("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorWithMessage("Internal server error", err.Error()))
	}
}

func (h *Handlers) deviceNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, models.DeviceNotFoundResponse(c.Param("id"), h.deviceManager.KnownDevices()))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorWithMessage("Invalid request", err.Error()))
}

// robotFor resolves the :id param; on failure the response is already written.
func (h *Handlers) robotFor(c *gin.Context) (robot.Robot, bool) {
	r, _, err := h.deviceManager.GetRobot(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return r, true
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": models.Now()})
}

func (h *Handlers) ListDevices(c *gin.Context) {
	devices, err := h.deviceManager.ListDevices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorWithMessage("Failed to list devices", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (h *Handlers) GetDevice(c *gin.Context) {
	id := c.Param("id")
	device := h.deviceManager.GetDevice(id)
	if device == nil {
		// Unknown ids may belong to a device attached since the last poll.
		if _, err := h.deviceManager.ListDevices(c.Request.Context()); err == nil {
			device = h.deviceManager.GetDevice(id)
		}
	}
	if device == nil {
		h.deviceNotFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": device})
}

func (h *Handlers) Screenshot(c *gin.Context) {
	shot, err := h.deviceManager.CaptureScreenshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, shot)
}

func (h *Handlers) GetOrientation(c *gin.Context) {
	r, ok := h.robotFor(c)
	if !ok {
		return
	}
	orientation, err := r.GetOrientation(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orientation": orientation})
}

type orientationRequest struct {
	Orientation string `json:"orientation" binding:"required,oneof=portrait landscape"`
}

func (h *Handlers) SetOrientation(c *gin.Context) {
	var req orientationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	r, ok := h.robotFor(c)
	if !ok {
		return
	}
	if err := r.SetOrientation(c.Request.Context(), req.Orientation); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Orientation set to "+req.Orientation))
}

func (h *Handlers) ListElements(c *gin.Context) {
	r, ok := h.robotFor(c)
	if !ok {
		return
	}
	elements, err := r.ListElements(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if elements == nil {
		elements = []models.Element{}
	}
	c.JSON(http.StatusOK, gin.H{"elements": elements})
}

type scriptRequest struct {
	Script string `json:"script" binding:"required"`
}

func (h *Handlers) RunScript(c *gin.Context) {
	var req scriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	results := h.scripts.ExecuteScript(c.Request.Context(), c.Param("id"), req.Script)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handlers) AbortScript(c *gin.Context) {
	n := h.scripts.Abort(c.Param("id"))
	if n == 0 {
		c.JSON(http.StatusOK, models.MessageResult{Success: false, Message: "No script is running on this device"})
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Aborted "+strconv.Itoa(n)+" script(s)"))
}

func (h *Handlers) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"history": []models.HistoryEntry{}})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorWithMessage("Invalid request", "limit must be a positive integer"))
		return
	}
	entries, err := h.history.Recent(c.Param("id"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}
