package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryTransient_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := RetryTransient(context.Background(), 3, func(context.Context) error {
		calls++
		if calls < 3 {
			return transientError("deliver", context.DeadlineExceeded)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryTransient_GivesUp(t *testing.T) {
	calls := 0
	err := RetryTransient(context.Background(), 2, func(context.Context) error {
		calls++
		return transientError("deliver", context.DeadlineExceeded)
	})
	assert.True(t, IsTransient(err))
	assert.Equal(t, 2, calls)
}

func TestRetryTransient_StopsOnPermanentError(t *testing.T) {
	calls := 0
	wrong := preconditionError(CodeWrongConfirmation, "nope")
	err := RetryTransient(context.Background(), 5, func(context.Context) error {
		calls++
		return wrong
	})
	assert.True(t, errors.Is(err, wrong))
	assert.Equal(t, CodeWrongConfirmation, CodeOf(err))
	assert.Equal(t, 1, calls)
}
