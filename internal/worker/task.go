package worker

import (
	"time"
)

// Task is one object fetch, tagged with its position in the page
type Task struct {
	Seq    int    `json:"seq"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
}

// Outcome classifies a fetch result
type Outcome int

const (
	// OutcomeFetched means Content holds the full object.
	OutcomeFetched Outcome = iota
	// OutcomeDropped means the fetch failed; the object is left out of the page.
	OutcomeDropped
	// OutcomeFatal means the fetch was abandoned because the run is stopping.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFetched:
		return "fetched"
	case OutcomeDropped:
		return "dropped"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Task
type Result struct {
	Seq      int
	Key      string
	Size     int64
	Content  []byte
	Outcome  Outcome
	Err      error
	Attempts int
	Duration time.Duration
}

// Config contains worker configuration
type Config struct {
	Retry RetryPolicy

	// Window bounds how many objects may be dispatched but not yet consumed.
	// Defaults to four times the pool size.
	Window int
}
