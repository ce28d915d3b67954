// Package progress defines the event structures emitted by crawl workers and
// the in-process bus that fans them out to subscribers.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Phase denotes the milestone represented by an Event.
type Phase string

// Supported progress phases.
const (
	PhaseDiscovering Phase = "discovering"
	PhaseFetching    Phase = "fetching"
	PhaseProcessing  Phase = "processing"
	PhaseCompleted   Phase = "completed"
	PhaseError       Phase = "error"
)

// Event captures one crawl progress milestone. Events are ephemeral: they are
// delivered at most once per subscriber and never replayed.
type Event struct {
	JobID          string    `json:"job_id"`
	SourceID       string    `json:"source_id"`
	ProjectID      string    `json:"project_id"`
	Phase          Phase     `json:"phase"`
	Progress       int       `json:"progress"`
	PagesProcessed int       `json:"pages_processed"`
	TotalPages     int       `json:"total_pages,omitempty"`
	CurrentURL     string    `json:"current_url,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.SourceID == "" {
		return errors.New("source id is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Phase {
	case PhaseDiscovering, PhaseFetching, PhaseProcessing, PhaseCompleted:
	case PhaseError:
		if e.Error == "" {
			return errors.New("error phase requires error text")
		}
	default:
		return fmt.Errorf("unknown phase %q", e.Phase)
	}
	if e.Progress < 0 || e.Progress > 100 {
		return fmt.Errorf("progress %d out of range", e.Progress)
	}
	return nil
}
