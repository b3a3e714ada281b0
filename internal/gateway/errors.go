package gateway

// Kind classifies a failed completion attempt.
type Kind string

const (
	// KindNetwork indicates no response was obtained from the provider.
	KindNetwork Kind = "network_failure"
	// KindAuth indicates the provider rejected the credentials (401/403).
	KindAuth Kind = "auth_failure"
	// KindEndpointNotFound indicates the completion endpoint does not exist (404).
	KindEndpointNotFound Kind = "endpoint_not_found"
	// KindRateLimited indicates the provider throttled the request (429).
	KindRateLimited Kind = "rate_limited"
	// KindProvider indicates any other non-success provider status.
	KindProvider Kind = "provider_error"
	// KindMalformedResponse indicates a success status with an unexpected body shape.
	KindMalformedResponse Kind = "malformed_response"
	// KindMalformedRequest indicates a client-side request shape violation.
	KindMalformedRequest Kind = "malformed_request"
)

// Error is a classified completion failure. Message is user-safe text
// suitable for display as an assistant reply.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
