package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/villatrans/carnet-backend/internal/data/repos"
	"github.com/villatrans/carnet-backend/internal/http/response"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
	"github.com/villatrans/carnet-backend/internal/services"
)

// GenerationHandler exposes carnet generation: batch start, progress
// polling, archive download and per-driver document access.
type GenerationHandler struct {
	log        *logger.Logger
	generation services.GenerationService
	driverRepo repos.DriverRepo
	storage    services.StorageService
}

func NewGenerationHandler(baseLog *logger.Logger, generation services.GenerationService, driverRepo repos.DriverRepo, storage services.StorageService) *GenerationHandler {
	return &GenerationHandler{
		log:        baseLog.With("handler", "GenerationHandler"),
		generation: generation,
		driverRepo: driverRepo,
		storage:    storage,
	}
}

type startBatchRequest struct {
	TemplateID *uuid.UUID  `json:"template_id"`
	DriverIDs  []uuid.UUID `json:"driver_ids"`
	Sync       bool        `json:"sync"`
}

type sessionCreatedResponse struct {
	Token  string `json:"token"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// StartBatch schedules carnet generation for the requested driver set, or
// every active driver when the set is omitted.
func (h *GenerationHandler) StartBatch(c *gin.Context) {
	var req startBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	session, err := h.generation.StartBatch(c.Request.Context(), requestUserID(c), req.TemplateID, req.DriverIDs, req.Sync)
	if err != nil {
		status := http.StatusBadRequest
		if session == nil {
			status = http.StatusInternalServerError
		}
		response.RespondError(c, status, "generation_failed", err)
		return
	}
	response.RespondOK(c, sessionCreatedResponse{
		Token:  session.Token,
		Status: string(session.Status),
		Total:  session.Total,
	})
}

// StartIndividual generates a single driver's carnet through the same
// session machinery, synchronously.
func (h *GenerationHandler) StartIndividual(c *gin.Context) {
	driverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_driver_id", err)
		return
	}
	var req struct {
		TemplateID *uuid.UUID `json:"template_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	session, err := h.generation.StartIndividual(c.Request.Context(), requestUserID(c), driverID, req.TemplateID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "generation_failed", err)
		return
	}
	response.RespondOK(c, sessionCreatedResponse{
		Token:  session.Token,
		Status: string(session.Status),
		Total:  session.Total,
	})
}

// Progress returns the poll DTO for a session token.
func (h *GenerationHandler) Progress(c *gin.Context) {
	token := c.Param("token")
	progress, err := h.generation.Progress(c.Request.Context(), token)
	if err != nil {
		response.RespondError(c, http.StatusNotFound, "session_not_found", err)
		return
	}
	response.RespondOK(c, progress)
}

// DownloadArchive streams the completed session's zip.
func (h *GenerationHandler) DownloadArchive(c *gin.Context) {
	token := c.Param("token")
	path, err := h.storage.ArchiveFile(token)
	if err != nil {
		response.RespondError(c, http.StatusNotFound, "archive_not_found", err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// DownloadDriverCarnet serves a driver's most recently generated document.
func (h *GenerationHandler) DownloadDriverCarnet(c *gin.Context) {
	driverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_driver_id", err)
		return
	}
	driver, err := h.driverRepo.GetByID(c.Request.Context(), nil, driverID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "driver_lookup_failed", err)
		return
	}
	if driver == nil {
		response.RespondError(c, http.StatusNotFound, "driver_not_found", fmt.Errorf("driver %s not found", driverID))
		return
	}
	if driver.CarnetPath == "" {
		response.RespondError(c, http.StatusNotFound, "carnet_not_generated", fmt.Errorf("driver %s has no generated carnet", driverID))
		return
	}
	if _, err := os.Stat(driver.CarnetPath); err != nil {
		response.RespondError(c, http.StatusNotFound, "carnet_missing", err)
		return
	}
	c.FileAttachment(driver.CarnetPath, filepath.Base(driver.CarnetPath))
}

// DeleteDriverCarnet removes a driver's generated document and clears the
// stored path. Deleting a driver with no document is a no-op success.
func (h *GenerationHandler) DeleteDriverCarnet(c *gin.Context) {
	driverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_driver_id", err)
		return
	}
	driver, err := h.driverRepo.GetByID(c.Request.Context(), nil, driverID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "driver_lookup_failed", err)
		return
	}
	if driver == nil {
		response.RespondError(c, http.StatusNotFound, "driver_not_found", fmt.Errorf("driver %s not found", driverID))
		return
	}

	if driver.CarnetPath != "" {
		if err := os.Remove(driver.CarnetPath); err != nil && !os.IsNotExist(err) {
			response.RespondError(c, http.StatusInternalServerError, "carnet_delete_failed", err)
			return
		}
		if err := h.driverRepo.UpdateCarnetPath(c.Request.Context(), nil, driver.ID, ""); err != nil {
			response.RespondError(c, http.StatusInternalServerError, "carnet_delete_failed", err)
			return
		}
		h.log.Info("Carnet document deleted", "driverID", driver.ID, "path", driver.CarnetPath)
	}

	response.RespondOK(c, gin.H{"deleted": true})
}

// requestUserID reads the authenticated user set by the calling layer.
// Authorization itself happens upstream of these handlers.
func requestUserID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
		if s, ok := v.(string); ok {
			if id, err := uuid.Parse(s); err == nil {
				return id
			}
		}
	}
	return uuid.Nil
}
