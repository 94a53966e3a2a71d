package amqp

import (
	"testing"

	"github.com/soundgraph/enricher/internal/core/domain"
)

func TestRequeued_IncrementsRetryCount(t *testing.T) {
	task := domain.NewTask("track-1", "Boards of Canada", "Roygbiv", 5, domain.SourceIngestion)
	task.RetryCount = 2
	queuedAt := task.QueuedAt

	copied := requeued(task)

	if copied.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", copied.RetryCount)
	}
	if copied.CorrelationID != task.CorrelationID {
		t.Errorf("CorrelationID changed: %q -> %q", task.CorrelationID, copied.CorrelationID)
	}
	if copied.TrackID != task.TrackID || copied.Priority != task.Priority {
		t.Errorf("Task identity changed: %+v", copied)
	}
	if copied.QueuedAt.Before(queuedAt) {
		t.Errorf("QueuedAt moved backwards: %v -> %v", queuedAt, copied.QueuedAt)
	}
}

func TestRequeued_LeavesOriginalUntouched(t *testing.T) {
	task := domain.NewTask("track-1", "Boards of Canada", "Roygbiv", 5, domain.SourceIngestion)
	queuedAt := task.QueuedAt

	requeued(task)

	if task.RetryCount != 0 {
		t.Errorf("Original RetryCount mutated to %d", task.RetryCount)
	}
	if !task.QueuedAt.Equal(queuedAt) {
		t.Errorf("Original QueuedAt mutated to %v", task.QueuedAt)
	}
}

func TestRequeued_SuccessiveRequeues(t *testing.T) {
	task := domain.NewTask("track-1", "Boards of Canada", "Roygbiv", 5, domain.SourceIngestion)

	for want := 1; want <= 3; want++ {
		task = requeued(task)
		if task.RetryCount != want {
			t.Fatalf("After requeue %d: RetryCount = %d", want, task.RetryCount)
		}
	}
}
