package api

// ActivateResponse is returned by a successful activation.
// LicenseData is the base64 ciphertext; Signature is the base64 Ed25519
// signature over the decoded ciphertext bytes.
type ActivateResponse struct {
	Success              bool   `json:"success"`
	LicenseData          string `json:"license_data"`
	Signature            string `json:"signature"`
	RemainingActivations int    `json:"remaining_activations"`
}

// ValidateResponse always carries Valid, including on failure
type ValidateResponse struct {
	Valid          bool   `json:"valid"`
	LicenseType    string `json:"license_type,omitempty"`
	ExpirationDate *int64 `json:"expiration_date,omitempty"`
	Error          string `json:"error,omitempty"`
}

// DeactivateResponse acknowledges a deactivation
type DeactivateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is the failure body of the activate and deactivate endpoints
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
