package api

import "github.com/stacklok/recordsync/internal/status"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string                        `json:"status" example:"healthy"`
	Jobs   map[string]status.RunnerState `json:"jobs"`
}
