package websocket

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luciancaetano/wschan"
	"github.com/luciancaetano/wschan/internal/protocol"
)

type dataError struct {
	msg  string
	data any
}

func (e *dataError) Error() string  { return e.msg }
func (e *dataError) ErrorData() any { return e.data }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want replyError
	}{
		{
			name: "bare code",
			err:  wschan.Code("Error message"),
			want: replyError{code: "Error message"},
		},
		{
			name: "domain error",
			err:  wschan.NewError("TEST_ERROR", "AppError type!", map[string]any{"a": 42}),
			want: replyError{code: "TEST_ERROR", description: "AppError type!", data: map[string]any{"a": 42}},
		},
		{
			name: "wrapped domain error",
			err:  fmt.Errorf("lookup: %w", wschan.NewError("NOT_FOUND", "no such user", nil)),
			want: replyError{code: "NOT_FOUND", description: "no such user"},
		},
		{
			name: "panic value",
			err:  recovered(67),
			want: replyError{code: "67"},
		},
		{
			name: "panic string",
			err:  recovered("boom"),
			want: replyError{code: "boom"},
		},
		{
			name: "generic error",
			err:  errors.New("database is on fire"),
			want: replyError{code: wschan.CodeInternalServerError},
		},
		{
			name: "generic error with data",
			err:  &dataError{msg: "quota", data: "retry later"},
			want: replyError{code: wschan.CodeInternalServerError, data: "retry later"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestRecoveredErrorIsKept(t *testing.T) {
	cause := errors.New("handler exploded")
	assert.Same(t, cause, recovered(cause))
}

func TestReplyToError(t *testing.T) {
	env := &protocol.Envelope{
		ReplyTo:   7,
		Error:     "TEST_ERROR",
		ErrorMsg:  "AppError type!",
		ErrorData: []byte(`{"a":42}`),
	}

	err := replyToError(env)

	var domain *wschan.Error
	if assert.ErrorAs(t, err, &domain) {
		assert.Equal(t, "TEST_ERROR", domain.Code)
		assert.Equal(t, "AppError type!", domain.Description)
		assert.Equal(t, map[string]any{"a": float64(42)}, domain.Data)
	}
	assert.ErrorIs(t, err, wschan.NewError("TEST_ERROR", "", nil))
	assert.EqualError(t, err, "TEST_ERROR: AppError type!")
}
