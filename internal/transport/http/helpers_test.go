package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apierrors "licensesrv/internal/errors"
	"licensesrv/internal/license"
	"licensesrv/internal/lockout"
	"licensesrv/internal/services"
	"licensesrv/internal/shared/testutil"
)

const (
	testAdminKey = "admin-test-key"
	testClientIP = "192.0.2.50:41000"
)

type testServer struct {
	env     *testutil.LicenseEnv
	logs    *testutil.BufferedSlogHandler
	handler http.Handler
}

type serverOption func(*RouterConfig, *serverDeps)

type serverDeps struct {
	codec   license.Codec
	service services.LicenseService
	policy  services.LockoutPolicy
}

func withLockoutThreshold(n int) serverOption {
	return func(_ *RouterConfig, d *serverDeps) { d.policy.Threshold = n }
}

func withCodec(c license.Codec) serverOption {
	return func(_ *RouterConfig, d *serverDeps) { d.codec = c }
}

func withService(s services.LicenseService) serverOption {
	return func(_ *RouterConfig, d *serverDeps) { d.service = s }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	logger, logs := testutil.NewTestLogger(t)
	env := testutil.NewLicenseEnv(t)

	deps := &serverDeps{
		codec:  env.Codec,
		policy: services.LockoutPolicy{Threshold: 100, Window: time.Minute},
	}
	cfg := RouterConfig{
		Logger:         logger,
		ErrHandler:     apierrors.NewErrorHandler(logger, false),
		AdminAPIKeys:   []string{testAdminKey},
		RequestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg, deps)
	}

	manager := env.Manager
	if deps.codec != license.Codec(env.Codec) {
		manager = license.NewManager(env.Store, deps.codec, logger)
	}
	if deps.service == nil {
		deps.service = services.NewLicenseService(manager, lockout.NewMemoryStore(), deps.policy, logger)
	}
	cfg.License = deps.service
	cfg.Health = services.NewHealthService(env.Store, nil, deps.codec, logger)

	return &testServer{env: env, logs: logs, handler: NewRouter(cfg)}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = testClientIP
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, path, body, nil)
}

func (s *testServer) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, map[string]string{"X-API-Key": testAdminKey})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
