package errno

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	code, msg := Decode(nil)
	assert.Equal(t, OK.Code, code)
	assert.Equal(t, OK.Message, msg)

	code, msg = Decode(ErrBind.WithMessage("stake 不能为空"))
	assert.Equal(t, ErrBind.Code, code)
	assert.Equal(t, "stake 不能为空", msg)

	code, msg = Decode(errors.New("boom"))
	assert.Equal(t, InternalServerError.Code, code)
	assert.Equal(t, "boom", msg)
}

func TestWrapKeepsCodeAndCause(t *testing.T) {
	cause := errors.New("execution reverted: lottery not ended")
	err := fmt.Errorf("request draw: %w", ErrSubmissionRejected.Wrap(cause))

	assert.True(t, errors.Is(err, ErrSubmissionRejected))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrLedgerCallFailed))

	code, msg := Decode(err)
	assert.Equal(t, ErrSubmissionRejected.Code, code)
	assert.Contains(t, msg, "lottery not ended")
}

func TestWithMessageStillMatches(t *testing.T) {
	err := ErrTimeout.WithMessage("Dice #7 still pending")
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, ErrTimeout.Code, Code(err))
}
