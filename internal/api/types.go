package api

import (
	"time"

	"github.com/satriahrh/voicelink/domain/entities"
)

// HealthResponse represents the health check payload
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	SessionID string `json:"session_id"`
}

// StateResponse represents the current session state
type StateResponse struct {
	entities.SessionState
	Phase entities.Phase `json:"phase"`
}

// ChatResponse represents the running transcript
type ChatResponse struct {
	Entries []entities.ChatEntry `json:"entries"`
	Count   int                  `json:"count"`
	AsOf    time.Time            `json:"as_of"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
