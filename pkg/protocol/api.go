// Package protocol defines the API request/response types.
package protocol

import "github.com/timkendrick/shunt/pkg/models"

// DeltaRequest is the body for POST {delta}/delta.
type DeltaRequest struct {
	Cursor     string `json:"cursor,omitempty"` // empty = from the beginning
	PathPrefix string `json:"path_prefix"`
}

// DeltaResponse is one page of changes from the remote delta service.
type DeltaResponse struct {
	Cursor  string                `json:"cursor"`
	Reset   bool                  `json:"reset"`
	HasMore bool                  `json:"has_more"`
	Changes []models.ChangeRecord `json:"changes"`
}

// TreeResponse is returned by GET /api/v1/sites/{user}/{app}/tree.
type TreeResponse struct {
	Root    *models.FileNode `json:"root"`
	Stale   bool             `json:"stale"`
	Warning string           `json:"warning,omitempty"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}
