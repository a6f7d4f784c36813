package http

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"licensesrv/internal/license"
	"licensesrv/internal/security"
	"licensesrv/internal/services"
	api "licensesrv/pkg/contracts/api/v1"
)

// Messages shown to plugins. Unknown keys and wrong emails share one message
// so responses do not reveal which keys exist.
const (
	msgInvalidCredentials = "Invalid license key or email"
	msgRevoked            = "License has been revoked"
	msgExpired            = "License has expired"
	msgLimitReached       = "Activation limit reached"
	msgTooManyAttempts    = "Too many attempts, try again later"
	msgInvalidData        = "Invalid license data"
	msgInvalidMachineID   = "machine_id is invalid"
	msgNotActivated       = "License is not activated on this machine"
	msgInternal           = "Internal server error"
)

// protocolError is the HTTP rendition of a license protocol failure
type protocolError struct {
	status  int
	message string
	// rejection marks expected business outcomes, logged below Error
	rejection bool
}

// classifyError is the single translation point from license, security and
// service errors to plugin-facing statuses and messages
func classifyError(err error) protocolError {
	var fieldErr *license.FieldError
	var invalidErr *invalidFieldError

	switch {
	case errors.Is(err, errMalformedBody):
		return protocolError{http.StatusBadRequest, "Invalid request body", true}
	case errors.As(err, &fieldErr):
		return protocolError{http.StatusBadRequest, fieldErr.Error(), true}
	case errors.As(err, &invalidErr):
		return protocolError{http.StatusBadRequest, invalidErr.Error(), true}
	case errors.Is(err, security.ErrInvalidMachineID):
		return protocolError{http.StatusBadRequest, msgInvalidMachineID, true}
	case errors.Is(err, services.ErrTooManyAttempts):
		return protocolError{http.StatusTooManyRequests, msgTooManyAttempts, true}
	case errors.Is(err, license.ErrLicenseNotFound):
		return protocolError{http.StatusNotFound, msgInvalidCredentials, true}
	case errors.Is(err, license.ErrEmailMismatch):
		return protocolError{http.StatusForbidden, msgInvalidCredentials, true}
	case errors.Is(err, license.ErrLicenseRevoked):
		return protocolError{http.StatusForbidden, msgRevoked, true}
	case errors.Is(err, license.ErrLicenseExpired):
		return protocolError{http.StatusForbidden, msgExpired, true}
	case errors.Is(err, license.ErrActivationLimit):
		return protocolError{http.StatusForbidden, msgLimitReached, true}
	case errors.Is(err, license.ErrActivationNotFound):
		return protocolError{http.StatusForbidden, msgNotActivated, true}
	case errors.Is(err, security.ErrDecryption):
		return protocolError{http.StatusUnauthorized, msgInvalidData, true}
	}
	return protocolError{http.StatusInternalServerError, msgInternal, false}
}

// logFailure logs a failed protocol call. Rejections go to Info (Warn for
// throttling); internal failures, including missing key material, to Error
// with the full error.
func (h *LicenseHandler) logFailure(ctx context.Context, operation string, err error, pe protocolError) {
	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.Int("status", pe.status),
		slog.String("reason", err.Error()),
	}

	switch {
	case !pe.rejection:
		if security.IsConfigurationError(err) {
			attrs = append(attrs, slog.String("error_type", "configuration"))
		}
		h.logger.LogAttrs(ctx, slog.LevelError, "License request failed", attrs...)
	case pe.status == http.StatusTooManyRequests:
		h.logger.LogAttrs(ctx, slog.LevelWarn, "License request throttled", attrs...)
	default:
		h.logger.LogAttrs(ctx, slog.LevelInfo, "License request rejected", attrs...)
	}
}

// writeFailure answers activate and deactivate failures with
// {success:false, error}
func (h *LicenseHandler) writeFailure(w http.ResponseWriter, r *http.Request, operation string, err error) {
	pe := classifyError(err)
	h.logFailure(r.Context(), operation, err, pe)
	setRetryAfter(w, err)

	render.Status(r, pe.status)
	render.JSON(w, r, api.ErrorResponse{Success: false, Error: pe.message})
}

// writeValidateFailure keeps {valid:false} in every validate failure.
// Business rejections answer 200 so plugins read the body, not the status.
func (h *LicenseHandler) writeValidateFailure(w http.ResponseWriter, r *http.Request, err error) {
	pe := classifyError(err)
	if errors.Is(err, license.ErrLicenseNotFound) {
		pe.message = msgNotActivated
	}
	h.logFailure(r.Context(), "validate", err, pe)
	setRetryAfter(w, err)

	status := pe.status
	if pe.rejection && status != http.StatusBadRequest && status != http.StatusTooManyRequests {
		status = http.StatusOK
	}
	render.Status(r, status)
	render.JSON(w, r, api.ValidateResponse{Valid: false, Error: pe.message})
}

func setRetryAfter(w http.ResponseWriter, err error) {
	if wait := services.RetryAfter(err); wait > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
}
