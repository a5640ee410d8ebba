// Package http provides the HTTP API for skywatchd.
package http

// QueryRequest is the request body for POST /api/v1/query. MaxContext
// and ScoreFloor are optional and can only tighten the configured
// retrieval bounds.
type QueryRequest struct {
	Query      string  `json:"query"`
	MaxContext int     `json:"max_context,omitempty"`
	ScoreFloor float64 `json:"score_floor,omitempty"`
}

// PushResponse is the response body for POST /api/v1/push/:kind.
type PushResponse struct {
	Accepted bool `json:"accepted"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
