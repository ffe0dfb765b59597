package engine

import (
	"errors"
	"fmt"

	"livehub/internal/domain"
)

var (
	ErrVotingClosed = errors.New("voting is closed")
	ErrAIDisabled   = errors.New("AI requests are disabled")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// AlreadyVotedError is returned when a client casts a second ballot.
type AlreadyVotedError struct {
	Previous domain.Ballot
}

func (e *AlreadyVotedError) Error() string {
	return "already voted"
}

// GenerationError wraps a failure of the lyric generator or of its output.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("song generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
