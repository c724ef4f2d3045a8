package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/villatrans/carnet-backend/internal/data/repos"
	"github.com/villatrans/carnet-backend/internal/domain"
	"github.com/villatrans/carnet-backend/internal/http/response"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
)

type TemplateHandler struct {
	log          *logger.Logger
	templateRepo repos.TemplateRepo
}

func NewTemplateHandler(baseLog *logger.Logger, templateRepo repos.TemplateRepo) *TemplateHandler {
	return &TemplateHandler{
		log:          baseLog.With("handler", "TemplateHandler"),
		templateRepo: templateRepo,
	}
}

type createTemplateRequest struct {
	Name           string                 `json:"name" binding:"required"`
	BackgroundPath string                 `json:"background_path" binding:"required"`
	FieldConfig    map[string]interface{} `json:"field_config" binding:"required"`
}

// Create validates the field configuration at this boundary so render time
// never sees a malformed template.
func (h *TemplateHandler) Create(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	raw, err := jsonMarshalFieldConfig(req.FieldConfig)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_field_config", err)
		return
	}

	tpl, err := h.templateRepo.Create(c.Request.Context(), nil, &domain.CarnetTemplate{
		Name:           req.Name,
		BackgroundPath: req.BackgroundPath,
		FieldConfig:    raw,
	})
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "template_create_failed", err)
		return
	}
	response.RespondOK(c, tpl)
}

// Activate makes the template the single active one.
func (h *TemplateHandler) Activate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_template_id", err)
		return
	}
	tpl, err := h.templateRepo.Activate(c.Request.Context(), nil, id)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "template_activate_failed", err)
		return
	}
	response.RespondOK(c, tpl)
}

func (h *TemplateHandler) GetActive(c *gin.Context) {
	tpl, err := h.templateRepo.GetActive(c.Request.Context(), nil)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "template_lookup_failed", err)
		return
	}
	if tpl == nil {
		response.RespondError(c, http.StatusNotFound, "no_active_template", fmt.Errorf("no active template configured"))
		return
	}
	response.RespondOK(c, tpl)
}

func (h *TemplateHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_template_id", err)
		return
	}
	tpl, err := h.templateRepo.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "template_lookup_failed", err)
		return
	}
	if tpl == nil {
		response.RespondError(c, http.StatusNotFound, "template_not_found", fmt.Errorf("template %s not found", id))
		return
	}
	response.RespondOK(c, tpl)
}

func jsonMarshalFieldConfig(m map[string]interface{}) (datatypes.JSON, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ParseFieldConfig(raw); err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
