package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/osmupdate/internal/feed"
	"github.com/roach88/osmupdate/internal/merge"
	"github.com/roach88/osmupdate/internal/selector"
)

// SyncError is the single error type a run fails with.
//
// SyncError includes structured fields for diagnostics. Err keeps the
// component error it was classified from.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string

	Err error
}

// ErrorCode categorizes run failures.
type ErrorCode string

const (
	// ErrCodeConfiguration covers unusable arguments: identical source and
	// destination, a missing source, an unknown output format.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeRangeExceeded indicates the update spans more days than allowed.
	ErrCodeRangeExceeded ErrorCode = "RANGE_EXCEEDED"

	// ErrCodeFeedUnavailable indicates a tier's newest state could not be
	// resolved, or the feed could not be reached.
	ErrCodeFeedUnavailable ErrorCode = "FEED_UNAVAILABLE"

	// ErrCodeFeedInconsistent indicates a sequence number inside the
	// advertised range has no state or no diff.
	ErrCodeFeedInconsistent ErrorCode = "FEED_INCONSISTENT"

	// ErrCodeMergeFailure indicates the converter failed or wrote no usable
	// output.
	ErrCodeMergeFailure ErrorCode = "MERGE_FAILURE"

	// ErrCodeUpToDate indicates there was nothing to apply. It is a terminal
	// outcome, not a malfunction.
	ErrCodeUpToDate ErrorCode = "UP_TO_DATE"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the SyncError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsUpToDate returns true if the run found nothing to apply.
func IsUpToDate(err error) bool {
	return CodeOf(err) == ErrCodeUpToDate
}

// IsConfigurationError returns true if the run was rejected before it
// touched the network.
func IsConfigurationError(err error) bool {
	return CodeOf(err) == ErrCodeConfiguration
}

// IsRangeError returns true if the update range was too large.
func IsRangeError(err error) bool {
	return CodeOf(err) == ErrCodeRangeExceeded
}

// IsFeedError returns true for both unavailable and inconsistent feeds.
func IsFeedError(err error) bool {
	c := CodeOf(err)
	return c == ErrCodeFeedUnavailable || c == ErrCodeFeedInconsistent
}

// IsMergeError returns true if a converter merge failed.
func IsMergeError(err error) bool {
	return CodeOf(err) == ErrCodeMergeFailure
}

// NewConfigurationError creates a SyncError for unusable arguments.
func NewConfigurationError(format string, args ...any) *SyncError {
	return &SyncError{Code: ErrCodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

func newUpToDateError(message string) *SyncError {
	return &SyncError{Code: ErrCodeUpToDate, Message: message}
}

// classify wraps a component error in a SyncError. Errors that already are
// SyncErrors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		se *SyncError
		re *selector.RangeError
		ue *selector.UnavailableError
		ie *feed.InconsistentError
		fe *merge.FailureError
	)
	switch {
	case errors.As(err, &se):
		return err
	case errors.As(err, &re):
		return &SyncError{
			Code:    ErrCodeRangeExceeded,
			Message: re.Error(),
			Details: map[string]string{
				"days":     fmt.Sprintf("%d", re.Days),
				"max_days": fmt.Sprintf("%d", re.MaxDays),
			},
			Err: err,
		}
	case errors.As(err, &ue):
		return &SyncError{
			Code:    ErrCodeFeedUnavailable,
			Message: ue.Error(),
			Details: map[string]string{"tier": ue.Kind.String()},
			Err:     err,
		}
	case errors.As(err, &ie):
		return &SyncError{
			Code:    ErrCodeFeedInconsistent,
			Message: ie.Error(),
			Details: map[string]string{
				"tier": ie.Kind.String(),
				"seq":  fmt.Sprintf("%d", ie.Sequence),
			},
			Err: err,
		}
	case errors.Is(err, feed.ErrNotFound):
		return &SyncError{Code: ErrCodeFeedInconsistent, Message: "changefile missing from feed", Err: err}
	case errors.As(err, &fe):
		return &SyncError{
			Code:    ErrCodeMergeFailure,
			Message: "converter failed",
			Details: map[string]string{"command": fe.Command},
			Err:     err,
		}
	default:
		return &SyncError{Code: ErrCodeFeedUnavailable, Message: "replication feed unreachable", Err: err}
	}
}
