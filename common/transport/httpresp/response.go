package httpresp

const (
	ErrUnauthorized       = "unauthorized"
	ErrInvalidCredentials = "invalid credentials"
	ErrMissingBearerToken = "bearer token is required"
	ErrInvalidToken       = "invalid token"
	ErrForbidden          = "forbidden"
	ErrInsufficientRole   = "insufficient permissions"
	ErrSessionExpired     = "session expired, please log in again"
)

// Envelope is the response shape every API endpoint returns: a success flag,
// a human-readable message, and an optional payload.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func OK(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

func OKMessage(message string, data any) Envelope {
	return Envelope{Success: true, Message: message, Data: data}
}

func Error(message string) Envelope {
	return Envelope{Success: false, Message: message}
}
