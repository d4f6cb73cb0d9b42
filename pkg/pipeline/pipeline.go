package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/raglane/raglane/pkg/metrics"
	"github.com/raglane/raglane/pkg/store"
)

// Outcome is the per-file result of running one stage.
type Outcome struct {
	FileID   string
	ResultID string
	Status   store.ResultStatus
	Reused   bool
	Error    string
}

// Summary aggregates stage outcomes.
type Summary struct {
	Total     int
	Succeeded int
	Reused    int
	Failed    int
}

func summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch {
		case o.Status == store.ResultSuccess && o.Reused:
			s.Succeeded++
			s.Reused++
		case o.Status == store.ResultSuccess:
			s.Succeeded++
		default:
			s.Failed++
		}
	}
	return s
}

func recordOutcomes(ctx context.Context, stage string, outcomes []Outcome) {
	for _, o := range outcomes {
		metrics.Global().RecordStageResult(ctx, stage, string(o.Status), o.Reused)
	}
}

// ValidationError reports preconditions that failed before any stage work
// started. Nothing has been processed when it is returned.
type ValidationError struct {
	Stage   string
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s stage validation failed: %s", e.Stage, strings.Join(e.Reasons, "; "))
}

// runTasks executes n index-addressed tasks on a bounded worker pool.
// Tasks record their outcome by index, so output order matches input order
// regardless of scheduling.
func runTasks(workers, n int, task func(i int)) error {
	if workers <= 0 {
		workers = 1
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			task(i)
		}); err != nil {
			wg.Done()
			return fmt.Errorf("failed to submit task: %w", err)
		}
	}
	wg.Wait()
	return nil
}
