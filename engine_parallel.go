package typemeta

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/jward/typemeta/internal/frontend"
)

// buildParallel runs the three-phase pipeline over prepared units:
//
//	Phase A (serial):   stat and cache check, already done by prepare.
//	Phase B (parallel): parse changed files on a worker pool.
//	Phase C (serial):   register batches in path order as they become ready.
//
// Workers never touch the Registry or the cache; each fills in its own unit
// and closes the unit's done channel. The writer walks units in order and
// waits for each one, so commit order never depends on scheduling.
func (e *Engine) buildParallel(ctx context.Context, b *build, units []*unit) error {
	var pending []*unit
	for _, u := range units {
		if u.cached {
			close(u.done)
			continue
		}
		pending = append(pending, u)
	}

	// ---- Phase B: Parallel extraction ----
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workCh := make(chan *unit, len(pending))
	for _, u := range pending {
		workCh <- u
	}
	close(workCh)

	numWorkers := defaultWorkers(e.workers, len(pending))
	e.logger.Debug("parsing",
		zap.Int("files", len(pending)),
		zap.Int("cached", len(units)-len(pending)),
		zap.Int("workers", numWorkers))

	var wg sync.WaitGroup
	if len(pending) > 0 {
		for i := 0; i < numWorkers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Each call builds its own parser, so workers share nothing.
				for u := range workCh {
					if err := ctx.Err(); err != nil {
						u.err = err
					} else {
						u.batch, u.err = frontend.ExtractFile(ctx, u.path)
					}
					close(u.done)
				}
			}()
		}
	}

	// ---- Phase C: Serial commit ----
	var commitErr error
	for _, u := range units {
		<-u.done
		if commitErr != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			commitErr = err
			cancel()
			continue
		}
		if err := e.commit(b, u); err != nil {
			commitErr = err
			cancel()
		}
	}
	wg.Wait()
	return commitErr
}
