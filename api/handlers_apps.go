package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"mobilecontrol/models"
)

const maxUploadSize = 1 << 30

func (h *Handlers) ListApps(c *gin.Context) {
	r, ok := h.robotFor(c)
	if !ok {
		return
	}
	apps, err := r.ListApps(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if apps == nil {
		apps = []models.App{}
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps})
}

func (h *Handlers) LaunchApp(c *gin.Context) {
	r, ok := h.robotFor(c)
	if !ok {
		return
	}
	pkg := c.Param("pkg")
	if err := r.LaunchApp(c.Request.Context(), pkg); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Launched "+pkg))
}

func (h *Handlers) TerminateApp(c *gin.Context) {
	r, ok := h.robotFor(c)
	if !ok {
		return
	}
	pkg := c.Param("pkg")
	if err := r.TerminateApp(c.Request.Context(), pkg); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Terminated "+pkg))
}

func (h *Handlers) UninstallApp(c *gin.Context) {
	r, ok := h.robotFor(c)
	if !ok {
		return
	}
	pkg := c.Param("pkg")
	if err := r.UninstallApp(c.Request.Context(), pkg); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Uninstalled "+pkg))
}

type installRequest struct {
	FilePath string `json:"filePath" binding:"required"`
}

// InstallApp accepts a multipart "file" upload or a JSON {filePath} that
// names a file on the server host.
func (h *Handlers) InstallApp(c *gin.Context) {
	r, ok := h.robotFor(c)
	if !ok {
		return
	}

	var path string
	if c.ContentType() == "multipart/form-data" {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
		file, err := c.FormFile("file")
		if err != nil {
			badRequest(c, err)
			return
		}

		dir, err := os.MkdirTemp("", "mobilecontrol-install-")
		if err != nil {
			h.respondError(c, err)
			return
		}
		defer os.RemoveAll(dir)

		// The extension tells simctl/adb what kind of bundle it is.
		path = filepath.Join(dir, filepath.Base(file.Filename))
		if err := c.SaveUploadedFile(file, path); err != nil {
			h.respondError(c, err)
			return
		}
		log.WithField("device", c.Param("id")).Infof("Received upload %s (%d bytes)", file.Filename, file.Size)
	} else {
		var req installRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if _, err := os.Stat(req.FilePath); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorWithMessage("Invalid request", "File not found: "+req.FilePath))
			return
		}
		path = req.FilePath
	}

	if err := r.InstallApp(c.Request.Context(), path); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Installed "+filepath.Base(path)))
}
