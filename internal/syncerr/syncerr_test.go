package syncerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeStatusError struct {
	code int
}

func (e *fakeStatusError) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *fakeStatusError) HTTPStatusCode() int { return e.code }

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil is system", err: nil, want: KindSystem},
		{name: "tagged validation", err: Validationf("bad date %q", "2024-13-01"), want: KindValidation},
		{name: "tagged transient survives wrapping", err: fmt.Errorf("fetch: %w", Transient("get", errors.New("boom"))), want: KindTransient},
		{name: "outermost tag wins", err: System("commit", Transient("exec", errors.New("reset"))), want: KindSystem},
		{name: "deadline exceeded", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: KindTransient},
		{name: "cancellation is not transient", err: context.Canceled, want: KindSystem},
		{name: "connection reset", err: &net.OpError{Op: "read", Err: syscall.ECONNRESET}, want: KindTransient},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: KindTransient},
		{name: "net timeout", err: timeoutError{}, want: KindTransient},
		{name: "server error status", err: &fakeStatusError{code: 503}, want: KindTransient},
		{name: "client error status", err: &fakeStatusError{code: 404}, want: KindSystem},
		{name: "plain error", err: errors.New("disk full"), want: KindSystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestNewWithNilError(t *testing.T) {
	t.Parallel()
	assert.NoError(t, New(KindSystem, "op", nil))
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := Transient("fetch changes", errors.New("connection refused"))
	assert.Equal(t, "fetch changes: connection refused", err.Error())
	assert.True(t, Is(err, KindTransient))
	assert.False(t, Is(err, KindValidation))

	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
