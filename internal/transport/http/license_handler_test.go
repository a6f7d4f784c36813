package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"licensesrv/internal/license"
	"licensesrv/internal/security"
	"licensesrv/internal/shared/testutil"
	api "licensesrv/pkg/contracts/api/v1"
	"licensesrv/pkg/contracts/domain"
)

func activateBody(l *domain.License, email, machine string) map[string]string {
	return map[string]string{
		"email":          email,
		"license_key":    l.Key,
		"machine_id":     machine,
		"plugin_version": "1.4.2",
		"os_info":        "macOS 14.5",
	}
}

func machineBody(key, machine string) map[string]string {
	return map[string]string{"license_key": key, "machine_id": machine}
}

func TestLicenseEndToEnd(t *testing.T) {
	s := newTestServer(t)
	l := s.env.Seed(t, testutil.SeedOptions{Type: domain.LicenseTypePro, MaxActivations: 2})
	machine := "e2e-machine-7f3a9c"

	rec := s.post(t, "/api/license/activate", activateBody(l, "Artist@Example.com", machine))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	activated := decode[api.ActivateResponse](t, rec)
	assert.True(t, activated.Success)
	assert.NotEmpty(t, activated.LicenseData)
	assert.NotEmpty(t, activated.Signature)
	assert.Equal(t, 1, activated.RemainingActivations)

	payload := s.env.Open(t, activated.LicenseData, activated.Signature, machine)
	assert.Equal(t, domain.LicenseTypePro.Index(), payload.Type)
	assert.Equal(t, l.Key, payload.LicenseKey)
	assert.Equal(t, machine, payload.MachineID)

	rec = s.post(t, "/api/license/validate", machineBody(l.Key, machine))
	require.Equal(t, http.StatusOK, rec.Code)
	validated := decode[api.ValidateResponse](t, rec)
	assert.True(t, validated.Valid)
	assert.Equal(t, "PRO", validated.LicenseType)
	assert.Nil(t, validated.ExpirationDate)

	rec = s.post(t, "/api/license/deactivate", machineBody(l.Key, machine))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[api.DeactivateResponse](t, rec).Success)

	_, err := s.env.Store.FindActivation(context.Background(), l.ID, machine)
	assert.ErrorIs(t, err, license.ErrActivationNotFound)
}

func TestActivateIsIdempotentPerMachine(t *testing.T) {
	s := newTestServer(t)
	l := s.env.Seed(t, testutil.SeedOptions{MaxActivations: 2})

	first := decode[api.ActivateResponse](t, s.post(t, "/api/license/activate", activateBody(l, l.OwnerEmail, "machine-aaaa-0001")))
	second := decode[api.ActivateResponse](t, s.post(t, "/api/license/activate", activateBody(l, l.OwnerEmail, "machine-aaaa-0001")))

	assert.True(t, second.Success)
	assert.Equal(t, first.RemainingActivations, second.RemainingActivations)

	n, err := s.env.Store.CountActivations(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestActivateEnforcesLimit(t *testing.T) {
	s := newTestServer(t)
	l := s.env.Seed(t, testutil.SeedOptions{MaxActivations: 2})

	for _, m := range []string{"machine-limit-01", "machine-limit-02"} {
		rec := s.post(t, "/api/license/activate", activateBody(l, l.OwnerEmail, m))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := s.post(t, "/api/license/activate", activateBody(l, l.OwnerEmail, "machine-limit-03"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode[api.ErrorResponse](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "Activation limit reached", body.Error)
}

func TestActivateErrors(t *testing.T) {
	past := time.Now().Add(-24 * time.Hour)

	tests := []struct {
		name       string
		seed       testutil.SeedOptions
		body       func(l *domain.License) any
		wantStatus int
		wantError  string
	}{
		{
			name:       "malformed json",
			body:       func(*domain.License) any { return `{"email":` },
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name: "missing email",
			body: func(l *domain.License) any {
				return map[string]string{"license_key": l.Key, "machine_id": "machine-0001"}
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "email is required",
		},
		{
			name: "blank license key",
			body: func(l *domain.License) any {
				return map[string]string{"email": l.OwnerEmail, "license_key": "   ", "machine_id": "machine-0001"}
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "license_key is required",
		},
		{
			name: "missing machine id",
			body: func(l *domain.License) any {
				return map[string]string{"email": l.OwnerEmail, "license_key": l.Key}
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "machine_id is required",
		},
		{
			name:       "machine id too short",
			body:       func(l *domain.License) any { return activateBody(l, l.OwnerEmail, "abc") },
			wantStatus: http.StatusBadRequest,
			wantError:  "machine_id is invalid",
		},
		{
			name: "unknown key",
			body: func(l *domain.License) any {
				b := activateBody(l, l.OwnerEmail, "machine-0001")
				b["license_key"] = "NOPE-NOPE-NOPE-NOPE"
				return b
			},
			wantStatus: http.StatusNotFound,
			wantError:  "Invalid license key or email",
		},
		{
			name:       "email mismatch",
			body:       func(l *domain.License) any { return activateBody(l, "someone@else.com", "machine-0001") },
			wantStatus: http.StatusForbidden,
			wantError:  "Invalid license key or email",
		},
		{
			name:       "revoked",
			seed:       testutil.SeedOptions{Revoked: true},
			body:       func(l *domain.License) any { return activateBody(l, l.OwnerEmail, "machine-0001") },
			wantStatus: http.StatusForbidden,
			wantError:  "License has been revoked",
		},
		{
			name:       "expired",
			seed:       testutil.SeedOptions{ExpirationDate: &past},
			body:       func(l *domain.License) any { return activateBody(l, l.OwnerEmail, "machine-0001") },
			wantStatus: http.StatusForbidden,
			wantError:  "License has expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			l := s.env.Seed(t, tt.seed)

			rec := s.post(t, "/api/license/activate", tt.body(l))

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode[api.ErrorResponse](t, rec)
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantError, body.Error)
			assert.Empty(t, s.logs.GetRecordsByLevel(slog.LevelError), "rejections are not errors")
		})
	}
}

func TestActivateLockout(t *testing.T) {
	s := newTestServer(t, withLockoutThreshold(2))
	l := s.env.Seed(t, testutil.SeedOptions{})

	guess := activateBody(l, l.OwnerEmail, "machine-0001")
	guess["license_key"] = "GUES-GUES-GUES-GUES"

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusNotFound, s.post(t, "/api/license/activate", guess).Code)
	}

	rec := s.post(t, "/api/license/activate", activateBody(l, l.OwnerEmail, "machine-0001"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "Too many attempts, try again later", decode[api.ErrorResponse](t, rec).Error)
	testutil.AssertLogContains(t, s.logs, slog.LevelWarn, "License request throttled")
}

func TestActivateWithoutKeyMaterial(t *testing.T) {
	s := newTestServer(t, withCodec(security.NewCodec(security.KeySource{}, nil)))
	l := s.env.Seed(t, testutil.SeedOptions{})

	rec := s.post(t, "/api/license/activate", activateBody(l, l.OwnerEmail, "machine-0001"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[api.ErrorResponse](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "Internal server error", body.Error)
	testutil.AssertLogAttr(t, s.logs, "error_type", "configuration")

	rec = s.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type stubService struct {
	mock.Mock
}

func (m *stubService) Activate(ctx context.Context, in license.ActivateInput, clientIP string) (*license.ActivateResult, error) {
	args := m.Called(ctx, in, clientIP)
	res, _ := args.Get(0).(*license.ActivateResult)
	return res, args.Error(1)
}

func (m *stubService) Validate(ctx context.Context, key, machine string) (*license.ValidateResult, error) {
	args := m.Called(ctx, key, machine)
	res, _ := args.Get(0).(*license.ValidateResult)
	return res, args.Error(1)
}

func (m *stubService) Deactivate(ctx context.Context, key, machine string) (*license.DeactivateResult, error) {
	args := m.Called(ctx, key, machine)
	res, _ := args.Get(0).(*license.DeactivateResult)
	return res, args.Error(1)
}

func (m *stubService) Grant(ctx context.Context, in license.GrantInput) (*domain.License, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*domain.License)
	return res, args.Error(1)
}

func (m *stubService) Revoke(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *stubService) Reinstate(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *stubService) Describe(ctx context.Context, key string) (*license.Description, error) {
	args := m.Called(ctx, key)
	res, _ := args.Get(0).(*license.Description)
	return res, args.Error(1)
}

func TestInternalErrorsStayGeneric(t *testing.T) {
	leak := errors.New("dial tcp 10.0.0.5:5432: password authentication failed for user licensesrv")

	svc := new(stubService)
	svc.On("Activate", mock.Anything, mock.Anything, "192.0.2.50").Return(nil, leak)
	svc.On("Validate", mock.Anything, "KEY-1", "machine-0001").Return(nil, leak)
	svc.On("Deactivate", mock.Anything, "KEY-1", "machine-0001").Return(nil, leak)

	s := newTestServer(t, withService(svc))

	rec := s.post(t, "/api/license/activate", map[string]string{
		"email": "a@b.c", "license_key": "KEY-1", "machine_id": "machine-0001",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.post(t, "/api/license/validate", machineBody("KEY-1", "machine-0001"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	v := decode[api.ValidateResponse](t, rec)
	assert.False(t, v.Valid)
	assert.Equal(t, "Internal server error", v.Error)

	rec = s.post(t, "/api/license/deactivate", machineBody("KEY-1", "machine-0001"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")

	var failures int
	for _, r := range s.logs.GetRecordsByLevel(slog.LevelError) {
		if r.Message == "License request failed" {
			failures++
		}
	}
	assert.Equal(t, 3, failures)
	svc.AssertExpectations(t)
}

func TestValidateAlwaysCarriesValid(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(48 * time.Hour).Truncate(time.Second)

	t.Run("active machine with expiry", func(t *testing.T) {
		s := newTestServer(t)
		l := s.env.Seed(t, testutil.SeedOptions{ExpirationDate: &future})
		require.Equal(t, http.StatusOK, s.post(t, "/api/license/activate", activateBody(l, l.OwnerEmail, "machine-0001")).Code)

		v := decode[api.ValidateResponse](t, s.post(t, "/api/license/validate", machineBody(l.Key, "machine-0001")))
		assert.True(t, v.Valid)
		require.NotNil(t, v.ExpirationDate)
		assert.Equal(t, future.Unix(), *v.ExpirationDate)
	})

	t.Run("machine never activated", func(t *testing.T) {
		s := newTestServer(t)
		l := s.env.Seed(t, testutil.SeedOptions{})

		rec := s.post(t, "/api/license/validate", machineBody(l.Key, "machine-0001"))
		assert.Equal(t, http.StatusOK, rec.Code)
		v := decode[api.ValidateResponse](t, rec)
		assert.False(t, v.Valid)

		// validation never activates
		n, err := s.env.Store.CountActivations(ctx, l.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("unknown key reads like an unactivated machine", func(t *testing.T) {
		s := newTestServer(t)
		l := s.env.Seed(t, testutil.SeedOptions{})

		unknown := decode[api.ValidateResponse](t, s.post(t, "/api/license/validate", machineBody("NOPE-NOPE-NOPE-NOPE", "machine-0001")))
		inactive := decode[api.ValidateResponse](t, s.post(t, "/api/license/validate", machineBody(l.Key, "machine-0001")))
		assert.False(t, unknown.Valid)
		assert.Equal(t, inactive.Error, unknown.Error)
	})

	t.Run("revoked after activation", func(t *testing.T) {
		s := newTestServer(t)
		l := s.env.Seed(t, testutil.SeedOptions{})
		require.Equal(t, http.StatusOK, s.post(t, "/api/license/activate", activateBody(l, l.OwnerEmail, "machine-0001")).Code)
		require.NoError(t, s.env.Manager.Revoke(ctx, l.Key))

		rec := s.post(t, "/api/license/validate", machineBody(l.Key, "machine-0001"))
		assert.Equal(t, http.StatusOK, rec.Code)
		v := decode[api.ValidateResponse](t, rec)
		assert.False(t, v.Valid)
		assert.Equal(t, "License has been revoked", v.Error)
	})

	t.Run("expired with an activation row", func(t *testing.T) {
		s := newTestServer(t)
		l := s.env.Seed(t, testutil.SeedOptions{ExpirationDate: &past})
		_, _, err := s.env.Store.CreateActivation(ctx, &domain.Activation{
			LicenseID: l.ID,
			MachineID: "machine-0001",
			CreatedAt: time.Now().Add(-48 * time.Hour),
		}, l.MaxActivations)
		require.NoError(t, err)

		v := decode[api.ValidateResponse](t, s.post(t, "/api/license/validate", machineBody(l.Key, "machine-0001")))
		assert.False(t, v.Valid)
		assert.Equal(t, "License has expired", v.Error)
	})

	t.Run("missing field", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.post(t, "/api/license/validate", map[string]string{"license_key": "KEY"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		v := decode[api.ValidateResponse](t, rec)
		assert.False(t, v.Valid)
		assert.Equal(t, "machine_id is required", v.Error)
	})
}

func TestDeactivateIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	l := s.env.Seed(t, testutil.SeedOptions{MaxActivations: 1})
	machine := "machine-0001"

	require.Equal(t, http.StatusOK, s.post(t, "/api/license/activate", activateBody(l, l.OwnerEmail, machine)).Code)

	for i := 0; i < 2; i++ {
		rec := s.post(t, "/api/license/deactivate", machineBody(l.Key, machine))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decode[api.DeactivateResponse](t, rec).Success)
	}

	rec := s.post(t, "/api/license/deactivate", machineBody("NOPE-NOPE-NOPE-NOPE", machine))
	assert.Equal(t, http.StatusOK, rec.Code)

	// the freed slot is usable again
	rec = s.post(t, "/api/license/activate", activateBody(l, l.OwnerEmail, "machine-0002"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[api.ActivateResponse](t, rec).RemainingActivations)
}

func TestDeactivateRequiresFields(t *testing.T) {
	s := newTestServer(t)

	rec := s.post(t, "/api/license/deactivate", map[string]string{"machine_id": "machine-0001"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "license_key is required", decode[api.ErrorResponse](t, rec).Error)
}
