package types

// SuccessEnvelope wraps every 2xx body returned by the API.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the caller-facing error. RequestID echoes X-Request-Id so
// operators can find the matching log lines.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
