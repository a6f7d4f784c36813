package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"licensesrv/internal/license"
	"licensesrv/internal/middleware"
	"licensesrv/internal/services"
	api "licensesrv/pkg/contracts/api/v1"
)

// LicenseHandler serves the plugin-facing license protocol
type LicenseHandler struct {
	service  services.LicenseService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:  service,
		validate: newValidator(),
		logger:   logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for the license protocol endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/activate", h.Activate)
	r.Post("/validate", h.Validate)
	r.Post("/deactivate", h.Deactivate)
	return r
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req api.ActivateRequest
	if err := decodeRequest(h.validate, w, r, &req); err != nil {
		h.writeFailure(w, r, "activate", err)
		return
	}

	result, err := h.service.Activate(r.Context(), license.ActivateInput{
		Email:         req.Email,
		LicenseKey:    req.LicenseKey,
		MachineID:     req.MachineID,
		PluginVersion: req.PluginVersion,
		OSInfo:        req.OSInfo,
	}, middleware.ClientIP(r))
	if err != nil {
		h.writeFailure(w, r, "activate", err)
		return
	}

	render.JSON(w, r, api.ActivateResponse{
		Success:              true,
		LicenseData:          result.LicenseData,
		Signature:            result.Signature,
		RemainingActivations: result.RemainingActivations,
	})
}

// Validate handles POST /api/license/validate
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateRequest
	if err := decodeRequest(h.validate, w, r, &req); err != nil {
		h.writeValidateFailure(w, r, err)
		return
	}

	result, err := h.service.Validate(r.Context(), req.LicenseKey, req.MachineID)
	if err != nil {
		h.writeValidateFailure(w, r, err)
		return
	}

	resp := api.ValidateResponse{
		Valid:       true,
		LicenseType: result.License.Type.String(),
	}
	if exp := result.License.ExpirationDate; exp != nil {
		unix := exp.Unix()
		resp.ExpirationDate = &unix
	}
	render.JSON(w, r, resp)
}

// Deactivate handles POST /api/license/deactivate. Unknown licenses and
// machines succeed as well.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req api.DeactivateRequest
	if err := decodeRequest(h.validate, w, r, &req); err != nil {
		h.writeFailure(w, r, "deactivate", err)
		return
	}

	result, err := h.service.Deactivate(r.Context(), req.LicenseKey, req.MachineID)
	if err != nil {
		h.writeFailure(w, r, "deactivate", err)
		return
	}

	msg := "License deactivated"
	if !result.Removed {
		msg = "No activation found for this machine"
	}
	render.JSON(w, r, api.DeactivateResponse{Success: true, Message: msg})
}
