package domain

import "time"

type ExportTaskStatus string

const (
	ExportTaskStatusQueued     ExportTaskStatus = "queued"
	ExportTaskStatusProcessing ExportTaskStatus = "processing"
	ExportTaskStatusComplete   ExportTaskStatus = "complete"
	ExportTaskStatusError      ExportTaskStatus = "error"
)

func (s ExportTaskStatus) Terminal() bool {
	return s == ExportTaskStatusComplete || s == ExportTaskStatusError
}

// ExportFilters are the merchant roster filters captured at task creation.
// Empty values mean "no constraint"; the service strips empty query params
// before they ever reach here.
type ExportFilters struct {
	DateFrom       string `json:"date_from,omitempty"`
	DateTo         string `json:"date_to,omitempty"`
	Active         string `json:"active,omitempty"`
	MembershipType string `json:"membership_type,omitempty"`
	CardNumber     string `json:"card_number,omitempty"`
	Address        string `json:"address,omitempty"`
	NationalityID  string `json:"nationality_id,omitempty"`
}

type ExportTask struct {
	ID        string           `json:"task_id"`
	Status    ExportTaskStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`

	Filters ExportFilters `json:"-"`

	// Progress as reported to the polling client.
	Progress  int `json:"progress"`
	Processed int `json:"processed"`
	Total     int `json:"total"`

	// Artifact location (OSS key preferred; local path is the single-pod fallback).
	ArtifactOSSKey string `json:"-"`
	ArtifactPath   string `json:"-"`
	Filename       string `json:"filename,omitempty"`

	// Diagnostics (non-sensitive)
	Error string `json:"error,omitempty"`
}
