package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luciancaetano/wschan"
	"github.com/luciancaetano/wschan/internal/protocol"
)

// replyError is a handler failure in the shape it takes on the wire.
type replyError struct {
	code        string
	description string
	data        any
}

// panicValue carries a value a handler panicked with that is neither a
// string nor an error.
type panicValue struct {
	value any
}

func (p *panicValue) Error() string {
	return fmt.Sprint(p.value)
}

// recovered converts a recovered panic into an error.
func recovered(r any) error {
	switch v := r.(type) {
	case string:
		return wschan.Code(v)
	case error:
		return v
	default:
		return &panicValue{value: v}
	}
}

// classify maps a handler error to its reply form:
//
//  1. wschan.Code: the text is the code, no description
//  2. *wschan.Error: code, description and data verbatim
//  3. a panic value of any other type: its string form is the code
//  4. any other error: INTERNAL_SERVER_ERROR; the message stays local, data
//     from an ErrorData() method is still passed on
func classify(err error) replyError {
	var code wschan.Code
	if errors.As(err, &code) {
		return replyError{code: string(code)}
	}

	var domain *wschan.Error
	if errors.As(err, &domain) {
		return replyError{code: domain.Code, description: domain.Description, data: domain.Data}
	}

	var pv *panicValue
	if errors.As(err, &pv) {
		return replyError{code: pv.Error()}
	}

	out := replyError{code: wschan.CodeInternalServerError}
	var carrier interface{ ErrorData() any }
	if errors.As(err, &carrier) {
		out.data = carrier.ErrorData()
	}
	return out
}

// replyToError turns a failed reply into the error Ask returns. Error data
// is decoded into generic JSON values.
func replyToError(env *protocol.Envelope) error {
	var data any
	if len(env.ErrorData) > 0 {
		if err := json.Unmarshal(env.ErrorData, &data); err != nil {
			data = env.ErrorData
		}
	}
	return &wschan.Error{Code: env.Error, Description: env.ErrorMsg, Data: data}
}
