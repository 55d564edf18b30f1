package model

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OKResponse acknowledges an operation that has no other payload.
type OKResponse struct {
	OK bool `json:"ok"`
}
