package engine

import "time"

// SyncState is the per-provider sync lifecycle state.
type SyncState string

const (
	StateIdle      SyncState = "idle"
	StatePreparing SyncState = "preparing"
	StateSyncing   SyncState = "syncing"
	StatePaused    SyncState = "paused"
	StateCompleted SyncState = "completed"
	StateError     SyncState = "error"
	StateCancelled SyncState = "cancelled"
)

// SyncStatus summarizes one provider's state.
type SyncStatus struct {
	Provider         string    `json:"provider"`
	State            SyncState `json:"state"`
	Connected        bool      `json:"connected"`
	LastSync         time.Time `json:"last_sync,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	PendingConflicts int       `json:"pending_conflicts"`
}

// Direction selects which way a sync sweep moves data.
type Direction string

const (
	DirectionUpload        Direction = "upload"
	DirectionDownload      Direction = "download"
	DirectionBidirectional Direction = "bidirectional"
)

// IsValid reports whether the direction is recognized.
func (d Direction) IsValid() bool {
	switch d {
	case DirectionUpload, DirectionDownload, DirectionBidirectional:
		return true
	default:
		return false
	}
}

// SyncReport is the result of one provider's sync sweep.
type SyncReport struct {
	Provider         string    `json:"provider"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Uploaded         int       `json:"uploaded"`
	Downloaded       int       `json:"downloaded"`
	Deleted          int       `json:"deleted"`
	Skipped          int       `json:"skipped"`
	Failed           int       `json:"failed"`
	Conflicts        int       `json:"conflicts"`
	BytesTransferred int64     `json:"bytes_transferred"`
}
