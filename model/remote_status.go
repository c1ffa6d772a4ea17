package model

import "fmt"

// RemoteStatus tracks where a file's bytes currently live and whether
// they can be trusted. The zero value is LocalIncomplete on purpose: a
// record that never went through a write has no usable bytes anywhere.
type RemoteStatus int

const (
	// A local write failed partway. The bytes on disk can't be trusted
	LocalCorrupt RemoteStatus = -1

	// The record exists but the bytes aren't safely on disk yet
	LocalIncomplete RemoteStatus = 0

	// Complete on disk, will never be mirrored
	LocalOnly RemoteStatus = 1

	// Complete on disk, waiting for the mirror to pick it up
	LocalReady RemoteStatus = 2

	// A mirror upload is currently running
	InProgress RemoteStatus = 3

	// Mirrored. The local copy may have been removed
	RemoteOnly RemoteStatus = 4
)

func (s RemoteStatus) String() string {
	switch s {
	case LocalCorrupt:
		return "LOCAL_CORRUPT"
	case LocalIncomplete:
		return "LOCAL_INCOMPLETE"
	case LocalOnly:
		return "LOCAL_ONLY"
	case LocalReady:
		return "LOCAL_READY"
	case InProgress:
		return "IN_PROGRESS"
	case RemoteOnly:
		return "REMOTE_ONLY"
	}

	return fmt.Sprintf("RemoteStatus(%d)", int(s))
}
