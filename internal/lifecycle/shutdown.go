package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Step is one named action of a shutdown sequence.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Sequence runs its steps in order exactly once, however many callers race
// to shut down. A failing step does not stop the ones after it.
type Sequence struct {
	steps   []Step
	timeout time.Duration
	logger  zerolog.Logger

	once sync.Once
	err  error
	done chan struct{}
}

// NewSequence builds a sequence whose steps share one context bounded by
// timeout. A zero timeout means no bound.
func NewSequence(timeout time.Duration, logger zerolog.Logger, steps ...Step) *Sequence {
	return &Sequence{
		steps:   steps,
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Run executes the steps on first call and returns the joined step errors on
// every call. Steps get a context detached from the caller's cancellation.
func (s *Sequence) Run(ctx context.Context) error {
	s.once.Do(func() {
		defer close(s.done)

		stepCtx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(stepCtx, s.timeout)
			defer cancel()
		}

		var errs []error
		for _, step := range s.steps {
			if step.Run == nil {
				continue
			}
			if err := step.Run(stepCtx); err != nil {
				s.logger.Warn().Err(err).Str("step", step.Name).Msg("shutdown_step_failed")
				errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
				continue
			}
			s.logger.Debug().Str("step", step.Name).Msg("shutdown_step_done")
		}
		s.err = errors.Join(errs...)
	})
	<-s.done
	return s.err
}

// Done is closed once the sequence has finished.
func (s *Sequence) Done() <-chan struct{} {
	return s.done
}
