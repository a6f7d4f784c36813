// Package http implements the HTTP handlers of the license server. Handlers
// are thin: they decode and validate requests, call the service layer and
// translate its errors into responses.
//
// # Endpoints
//
//	POST /api/license/activate      bind a machine, return a sealed license
//	POST /api/license/validate      check a machine's activation, always {valid}
//	POST /api/license/deactivate    free a machine's slot, idempotent
//	POST /api/admin/licenses        grant a license (API key)
//	GET  /api/admin/licenses/{key}  describe a license and its ledger
//	POST /api/admin/licenses/{key}/revoke
//	POST /api/admin/licenses/{key}/reinstate
//	GET  /healthz, /livez, /readyz, /version
//
// # Errors
//
// The plugin-facing endpoints answer {success:false, error} (activate,
// deactivate) or {valid:false, error} (validate); classifyError in
// license_errors.go is the only place that maps errors to those bodies.
// Unknown keys and wrong emails share one message. Admin and health routes
// use RFC 7807 problem documents from internal/errors.
package http
