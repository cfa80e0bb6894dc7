package scheduler

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrUnsupportedStage = errors.New("unsupported stage")
	// ErrNoStructuredOutput keeps the exact text stored on failed Runs
	ErrNoStructuredOutput = errors.New("No structured output from Codex")
	ErrAgentStream        = errors.New("codex stream failed")
	ErrCancelled          = errors.New("run cancelled")
	ErrSessionBusy        = errors.New("session already has a run in progress")
)

// streamError classifies a failure of the agent transport
func streamError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return fmt.Errorf("%w: %v", ErrAgentStream, err)
}

// cancelled reports failures that happened after ctx was cancelled as
// ErrCancelled, whatever step they surfaced in.
func cancelled(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.Is(err, ErrCancelled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCancelled, err)
}
