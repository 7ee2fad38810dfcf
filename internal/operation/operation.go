package operation

import (
	"time"
)

// Type says which direction a transfer moves data.
type Type string

const (
	TypeUpload   Type = "upload"
	TypeDownload Type = "download"
)

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Operation is one tracked transfer attempt against one provider.
// All fields serialize to JSON so callers can persist history between runs.
type Operation struct {
	ID               string            `json:"id"`
	Type             Type              `json:"type"`
	LocalPath        string            `json:"local_path"`
	RemotePath       string            `json:"remote_path"`
	Provider         string            `json:"provider"`
	Status           Status            `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	Progress         float64           `json:"progress"` // fraction in [0,1]
	BytesTransferred int64             `json:"bytes_transferred"`
	TotalBytes       int64             `json:"total_bytes"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers can hand snapshots across goroutines.
func (o *Operation) Clone() *Operation {
	cp := *o
	if o.StartedAt != nil {
		t := *o.StartedAt
		cp.StartedAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		cp.CompletedAt = &t
	}
	if o.Metadata != nil {
		cp.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
