package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "licensesrv/internal/errors"
	"licensesrv/internal/license"
	"licensesrv/internal/security"
	"licensesrv/internal/services"
	api "licensesrv/pkg/contracts/api/v1"
	"licensesrv/pkg/contracts/domain"
)

// AdminHandler serves license administration behind API key auth
type AdminHandler struct {
	service    services.LicenseService
	errHandler *apierrors.ErrorHandler
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service services.LicenseService, errHandler *apierrors.ErrorHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:    service,
		errHandler: errHandler,
		validate:   newValidator(),
		logger:     logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns a chi router for /api/admin/licenses
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Grant)
	r.Route("/{key}", func(r chi.Router) {
		r.Get("/", h.Describe)
		r.Post("/revoke", h.Revoke)
		r.Post("/reinstate", h.Reinstate)
	})
	return r
}

// Grant handles POST /api/admin/licenses
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req api.GrantLicenseRequest
	if err := decodeRequest(h.validate, w, r, &req); err != nil {
		h.errHandler.HandleError(w, r, requestError(err))
		return
	}

	licenseType, err := domain.ParseLicenseType(req.LicenseType)
	if err != nil {
		h.errHandler.HandleError(w, r, apierrors.ErrValidation("license_type", "must be STANDARD or PRO"))
		return
	}

	lic, err := h.service.Grant(r.Context(), license.GrantInput{
		Email:          req.Email,
		Type:           licenseType,
		MaxActivations: req.MaxActivations,
		ExpirationDate: req.ExpirationDate,
	})
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "License granted via admin API",
		slog.String("license_key", security.MaskLicenseKey(lic.Key)),
		slog.String("license_type", lic.Type.String()),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, api.LicenseView{
		License:              *lic,
		Activations:          []api.ActivationView{},
		RemainingActivations: lic.MaxActivations,
	})
}

// Describe handles GET /api/admin/licenses/{key}
func (h *AdminHandler) Describe(w http.ResponseWriter, r *http.Request) {
	desc, err := h.service.Describe(r.Context(), licenseKeyParam(r))
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, licenseView(desc))
}

// Revoke handles POST /api/admin/licenses/{key}/revoke
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.setRevoked(w, r, true)
}

// Reinstate handles POST /api/admin/licenses/{key}/reinstate
func (h *AdminHandler) Reinstate(w http.ResponseWriter, r *http.Request) {
	h.setRevoked(w, r, false)
}

func (h *AdminHandler) setRevoked(w http.ResponseWriter, r *http.Request, revoked bool) {
	ctx := r.Context()
	key := licenseKeyParam(r)

	var err error
	if revoked {
		err = h.service.Revoke(ctx, key)
	} else {
		err = h.service.Reinstate(ctx, key)
	}
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}

	desc, err := h.service.Describe(ctx, key)
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, licenseView(desc))
}

func licenseKeyParam(r *http.Request) string {
	return license.NormalizeLicenseKey(chi.URLParam(r, "key"))
}

func licenseView(desc *license.Description) api.LicenseView {
	views := make([]api.ActivationView, 0, len(desc.Activations))
	for _, a := range desc.Activations {
		views = append(views, api.ActivationView{
			MachineHash:     security.HashMachineID(a.MachineID),
			PluginVersion:   a.PluginVersion,
			OSInfo:          a.OSInfo,
			CreatedAt:       a.CreatedAt,
			LastValidatedAt: a.LastValidatedAt,
		})
	}
	return api.LicenseView{
		License:              *desc.License,
		Activations:          views,
		RemainingActivations: desc.RemainingActivations,
	}
}

// requestError turns a decode or validation failure into an APIError
func requestError(err error) error {
	var invalid *invalidFieldError
	switch {
	case errors.Is(err, errMalformedBody):
		return apierrors.InvalidRequestWithError(errors.Unwrap(err))
	case errors.As(err, &invalid):
		return apierrors.ErrValidation(invalid.field, strings.TrimPrefix(invalid.Error(), invalid.field+" "))
	}
	return err
}
