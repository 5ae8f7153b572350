package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageItemStart     Stage = "ITEM_START"
	StageItemRetry     Stage = "ITEM_RETRY"
	StageItemProcessed Stage = "ITEM_PROCESSED"
	StageItemFailed    Stage = "ITEM_FAILED"
	StageItemCanceled  Stage = "ITEM_CANCELED"
)

// IsItem reports whether the stage concerns a single URL.
func (s Stage) IsItem() bool {
	switch s {
	case StageItemStart, StageItemRetry, StageItemProcessed, StageItemFailed, StageItemCanceled:
		return true
	default:
		return false
	}
}

// Event captures a single step of a replay run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// URL is the work item; required for item stages.
	URL string
	// Attempt is the 1-based attempt count at the time of the event.
	Attempt int
	// Worker is the index of the emitting worker, or -1 for run events.
	Worker int
	// Dur is the item or run latency for terminal stages.
	Dur time.Duration
	// Note carries low-volume context such as the last error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageItemStart, StageItemRetry, StageItemProcessed, StageItemFailed, StageItemCanceled:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Attempt < 0 {
		return errors.New("attempt must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
