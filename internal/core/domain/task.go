package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority bounds for enrichment tasks. 10 is most urgent.
const (
	MinPriority = 0
	MaxPriority = 10
)

// TaskSource identifies where an enrichment task originated.
type TaskSource string

const (
	SourceIngestion TaskSource = "ingestion"
	SourceBackfill  TaskSource = "backfill"
	SourceReplay    TaskSource = "replay"
	SourceManual    TaskSource = "manual"
)

// EnrichmentTask is a unit of enrichment work flowing through the queue.
type EnrichmentTask struct {
	TrackID       string     `json:"track_id"`
	Artist        string     `json:"artist"`
	Title         string     `json:"title"`
	Priority      int        `json:"priority"`
	RetryCount    int        `json:"retry_count"`
	Source        TaskSource `json:"source"`
	QueuedAt      time.Time  `json:"queued_at"`
	CorrelationID string     `json:"correlation_id"`
}

// NewTask creates a task with a fresh correlation id and clamped priority.
func NewTask(trackID, artist, title string, priority int, source TaskSource) *EnrichmentTask {
	if priority < MinPriority {
		priority = MinPriority
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	return &EnrichmentTask{
		TrackID:       trackID,
		Artist:        artist,
		Title:         title,
		Priority:      priority,
		Source:        source,
		QueuedAt:      time.Now().UTC(),
		CorrelationID: uuid.NewString(),
	}
}

// Validate reports structural problems that make a task unprocessable.
// Structural errors bypass retry and go straight to the DLQ.
func (t *EnrichmentTask) Validate() error {
	if t.TrackID == "" {
		return fmt.Errorf("%w: missing track_id", ErrMalformedTask)
	}
	if t.Artist == "" && t.Title == "" {
		return fmt.Errorf("%w: missing both artist and title", ErrMalformedTask)
	}
	if t.Priority < MinPriority || t.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d out of range", ErrMalformedTask, t.Priority)
	}
	return nil
}

// ErrMalformedTask marks tasks that can never be processed.
var ErrMalformedTask = errors.New("malformed enrichment task")
