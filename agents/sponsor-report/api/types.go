package api

import "github.com/ujujhuang-cpu/youtube-scheduler/internal/models"

type ErrorResponse struct {
	Message string `json:"message"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type TestKeyRequest struct {
	APIKey string `json:"apiKey"`
}

type TestKeyResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

type UpdateChannelsRequest struct {
	Channels []string `json:"channels"`
}

type UpdateCadenceRequest struct {
	Frequency models.Frequency `json:"frequency"`
	SendTime  string           `json:"sendTime"`
}

// ToggleRequest sets the active flag. An empty body flips it.
type ToggleRequest struct {
	Active *bool `json:"active"`
}
