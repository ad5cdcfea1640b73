// Package types defines the wire envelopes shared by every API response.
// Success payloads ride under "data", failures under "error", so clients can
// branch on shape alone.
package types

// SuccessEnvelope wraps any successful response body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the client-facing error shape. Details is populated only for
// codes that permit structured context (validation fields, conflicting
// variant ids).
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps an APIError.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
