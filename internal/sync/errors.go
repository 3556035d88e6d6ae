package sync

import (
	"errors"

	"github.com/stacklok/recordsync/internal/syncerr"
)

// Reasons attached to cycle-fatal errors
const (
	ReasonFetchFailed      = "FetchFailed"
	ReasonUnitOfWorkFailed = "UnitOfWorkFailed"
	ReasonGroupFailed      = "GroupFailed"
	ReasonCommitFailed     = "CommitFailed"
)

// ErrUnitOfWorkClosed is returned by a UnitOfWork used after Commit or Rollback
var ErrUnitOfWorkClosed = errors.New("unit of work already completed")

// Error is a cycle-fatal failure returned by RunCycle
type Error struct {
	Err     error
	Message string
	Kind    syncerr.Kind
	Reason  string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind implements syncerr.Classified
func (e *Error) ErrorKind() syncerr.Kind {
	return e.Kind
}

// fatalKind keeps transient failures retryable and turns everything else into
// a system failure
func fatalKind(err error) syncerr.Kind {
	if syncerr.KindOf(err) == syncerr.KindTransient {
		return syncerr.KindTransient
	}
	return syncerr.KindSystem
}

// mappingError tags untagged mapper failures as validation problems
func mappingError(op string, err error) error {
	var classified syncerr.Classified
	if errors.As(err, &classified) {
		return err
	}
	return syncerr.Validation(op, err)
}
