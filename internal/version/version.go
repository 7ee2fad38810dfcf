package version

import (
	"time"
)

// FileVersion is an immutable snapshot descriptor of one side (local or
// remote) of a logical file. Two FileVersions are compared structurally,
// never by reference.
type FileVersion struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Checksum   string    `json:"checksum"`
	Exists     bool      `json:"exists"`
}

// Missing returns the canonical descriptor for a file that does not exist
// on one side.
func Missing(path string) FileVersion {
	return FileVersion{Path: path, Exists: false}
}

// Equal reports structural equality of two snapshots. Checksum is
// authoritative when both sides carry one; otherwise size and modification
// time decide.
func (v FileVersion) Equal(other FileVersion) bool {
	if v.Exists != other.Exists {
		return false
	}
	if !v.Exists {
		return true
	}
	if v.Checksum != "" && other.Checksum != "" {
		return v.Checksum == other.Checksum
	}
	return v.Size == other.Size && v.ModifiedAt.Equal(other.ModifiedAt)
}
