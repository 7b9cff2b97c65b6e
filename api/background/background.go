package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Background supervises fire-and-forget tasks so the server can wait for
// them during shutdown instead of killing them mid-flight.
type Background struct {
	log  logrus.FieldLogger
	wg   sync.WaitGroup
	done chan struct{}
}

func New(log logrus.FieldLogger) *Background {
	return &Background{
		log:  log,
		done: make(chan struct{}),
	}
}

// Run executes task on its own goroutine, recovering panics.
func (b *Background) Run(task func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				b.log.Errorf("background task panicked: %v", rec)
			}
		}()
		task()
	}()
}

// RunEvery executes task on a fixed interval until Shutdown is called.
func (b *Background) RunEvery(interval time.Duration, task func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		tick := time.NewTicker(interval)
		defer tick.Stop()

		for {
			select {
			case <-b.done:
				return
			case <-tick.C:
				func() {
					defer func() {
						if rec := recover(); rec != nil {
							b.log.Errorf("background task panicked: %v", rec)
						}
					}()
					task(context.Background())
				}()
			}
		}
	}()
}

// Shutdown stops periodic tasks and waits for in-flight ones, giving up
// when ctx expires.
func (b *Background) Shutdown(ctx context.Context) error {
	close(b.done)

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
