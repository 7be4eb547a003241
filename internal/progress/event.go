package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event records.
type Stage string

// Run and page milestones.
const (
	StageRunStart   Stage = "RUN_START"
	StagePageListed Stage = "PAGE_LISTED"
	StagePageFailed Stage = "PAGE_FAILED"
	StagePostStored Stage = "POST_STORED"
	StagePostFailed Stage = "POST_FAILED"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Event is one step of a crawl run.
type Event struct {
	RunID string    `json:"run_id"`
	TS    time.Time `json:"ts"`
	Stage Stage     `json:"stage"`
	// Page is the 1-based listing page for page stages.
	Page int `json:"page,omitempty"`
	// Posts counts the post refs found on a listed page.
	Posts  int    `json:"posts,omitempty"`
	PostID string `json:"post_id,omitempty"`
	URL    string `json:"url,omitempty"`
	// Result is the store outcome for POST_STORED: created, updated or unchanged.
	Result string        `json:"result,omitempty"`
	Dur    time.Duration `json:"duration_ns,omitempty"`
	// Note holds short error text for failure stages.
	Note string `json:"note,omitempty"`
}

// Validate rejects events a sink could not attribute.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageListed, StagePageFailed:
		if e.Page < 1 {
			return fmt.Errorf("%s requires page >= 1", e.Stage)
		}
	case StagePostStored, StagePostFailed:
		if e.PostID == "" && e.URL == "" {
			return fmt.Errorf("%s requires post id or url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes its run.
func (e Event) Terminal() bool {
	return e.Stage == StageRunDone || e.Stage == StageRunError
}
