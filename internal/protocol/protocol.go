package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	maxPayloadSize = 10 * 1024 * 1024 // 10MB max frame size

	// MaxFrameSize is the largest frame Decode accepts.
	MaxFrameSize = maxPayloadSize
)

var (
	ErrFrameTooLarge   = fmt.Errorf("frame exceeds maximum %d bytes", maxPayloadSize)
	ErrAmbiguous       = errors.New("envelope has both name and replyTo")
	ErrMissingKind     = errors.New("envelope has neither name nor replyTo")
	emptyObject        = json.RawMessage("{}")
	errNotJSONDocument = errors.New("frame is not a JSON object")
)

// Envelope is a decoded wire message: a request when IsReply is false, a
// reply otherwise.
type Envelope struct {
	// request
	ID   uint64
	Name string
	Data json.RawMessage

	// reply
	ReplyTo   uint64
	OK        bool
	Error     string
	ErrorMsg  string
	ErrorData json.RawMessage
}

// IsReply reports whether the envelope answers an earlier request.
func (e *Envelope) IsReply() bool {
	return e.ReplyTo != 0
}

// DecodeError is returned for frames that are not well-formed envelopes.
// ID holds the request id when it could still be recovered from the frame.
type DecodeError struct {
	ID    uint64
	HasID bool
	Err   error
}

func (e *DecodeError) Error() string {
	if e.HasID {
		return fmt.Sprintf("malformed envelope (id %d): %v", e.ID, e.Err)
	}
	return fmt.Sprintf("malformed envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// flag decodes a JSON boolean, or a number where non-zero means true.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "true":
		*f = true
		return nil
	case "false", "null":
		*f = false
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("ok must be a boolean or number: %w", err)
	}
	*f = n != 0
	return nil
}

type wireEnvelope struct {
	ID        *uint64         `json:"id,omitempty"`
	Name      *string         `json:"name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	ReplyTo   *uint64         `json:"replyTo,omitempty"`
	OK        *flag           `json:"ok,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorMsg  string          `json:"errorMsg,omitempty"`
	ErrorData json.RawMessage `json:"errorData,omitempty"`
}

// Decode parses a frame into an Envelope.
// The returned error is always a *DecodeError.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > maxPayloadSize {
		return nil, &DecodeError{Err: ErrFrameTooLarge}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Err: errNotJSONDocument}
	}

	var w wireEnvelope
	if err := json.Unmarshal(trimmed, &w); err != nil {
		id, ok := recoverID(trimmed)
		return nil, &DecodeError{ID: id, HasID: ok, Err: err}
	}

	env := &Envelope{}
	if w.ReplyTo != nil {
		env.ReplyTo = *w.ReplyTo
	}
	if w.ID != nil {
		env.ID = *w.ID
	}

	hasName := w.Name != nil
	switch {
	case hasName && env.IsReply():
		return nil, &DecodeError{ID: env.ID, HasID: env.ID != 0, Err: ErrAmbiguous}
	case !hasName && !env.IsReply():
		return nil, &DecodeError{ID: env.ID, HasID: env.ID != 0, Err: ErrMissingKind}
	}

	if env.IsReply() {
		if w.OK != nil {
			env.OK = bool(*w.OK)
		}
		env.Data = w.Data
		env.Error = w.Error
		env.ErrorMsg = w.ErrorMsg
		env.ErrorData = nullToEmpty(w.ErrorData)
		return env, nil
	}

	env.Name = *w.Name
	env.Data = w.Data
	return env, nil
}

// recoverID pulls a usable id out of a frame whose typed decode failed.
func recoverID(data []byte) (uint64, bool) {
	var loose map[string]any
	if err := json.Unmarshal(data, &loose); err != nil {
		return 0, false
	}
	n, ok := loose["id"].(float64)
	if !ok || n < 1 || n >= float64(math.MaxUint64) || n != math.Trunc(n) {
		return 0, false
	}
	return uint64(n), true
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if string(raw) == "null" {
		return nil
	}
	return raw
}

// EncodeRequest encodes an ask (id != 0) or a say (id == 0). A nil data is sent as {}.
func EncodeRequest(id uint64, name string, data any) ([]byte, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = emptyObject
	}
	w := wireEnvelope{Name: &name, Data: raw}
	if id != 0 {
		w.ID = &id
	}
	return marshal(w)
}

// EncodeResult encodes a successful reply to id.
func EncodeResult(id uint64, data any) ([]byte, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	ok := flag(true)
	return marshal(wireEnvelope{ReplyTo: &id, OK: &ok, Data: raw})
}

// EncodeFailure encodes a failed reply to id.
func EncodeFailure(id uint64, code, description string, data any) ([]byte, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	ok := flag(false)
	return marshal(wireEnvelope{
		ReplyTo:   &id,
		OK:        &ok,
		Error:     code,
		ErrorMsg:  description,
		ErrorData: raw,
	})
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		if len(raw) == 0 {
			return nil, nil
		}
		return raw, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

func marshal(w wireEnvelope) ([]byte, error) {
	out, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if len(out) > maxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	return out, nil
}
