package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vinayprograms/ift/errors"
)

// Action selects how a message is dispatched on the receiving side.
type Action string

const (
	// ActionMethod invokes a method: args = [name, ...callArgs, {callbackId}?].
	ActionMethod Action = "method"

	// ActionEvent triggers an event: args = [name, ...eventArgs].
	ActionEvent Action = "event"

	// ActionCallback resolves a pending call: args = [callbackId, ...results].
	ActionCallback Action = "callback"

	// ActionReady is the child's readiness handshake. It has no type.
	ActionReady Action = "ready"
)

// Message is the wire unit exchanged between the two contexts.
type Message struct {
	Type   string `json:"type"`
	Action Action `json:"action"`
	Args   Args   `json:"args"`

	// Error marks a callback as failed. Absent on success.
	Error *errors.Error `json:"error,omitempty"`
}

// CallbackRef is the trailing argument of a method message that expects a reply.
type CallbackRef struct {
	CallbackID int `json:"callbackId"`
}

// EncodeMessage returns the JSON text of msg.
func EncodeMessage(msg *Message) (string, error) {
	out := *msg
	if out.Args == nil {
		out.Args = Args{}
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "encode message",
			errors.WithClientType(msg.Type))
	}
	return string(data), nil
}

// DecodeMessage parses and validates wire text.
func DecodeMessage(data string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeMalformed, "decode message")
	}

	switch msg.Action {
	case ActionReady:
	case ActionMethod, ActionEvent, ActionCallback:
		if msg.Type == "" {
			return nil, errors.Malformed("message has no type")
		}
		if len(msg.Args) == 0 {
			return nil, errors.Malformed(fmt.Sprintf("%s message has no arguments", msg.Action),
				errors.WithClientType(msg.Type))
		}
	default:
		return nil, errors.Malformed(fmt.Sprintf("unknown action %q", msg.Action),
			errors.WithClientType(msg.Type))
	}
	if msg.Error != nil && msg.Action != ActionCallback {
		return nil, errors.Malformed("error member on non-callback message",
			errors.WithClientType(msg.Type))
	}
	return &msg, nil
}

// Args is an ordered list of raw JSON positional arguments.
type Args []json.RawMessage

// NewArgs encodes values as positional arguments. A json.RawMessage value is
// passed through unchanged and nil encodes as null.
func NewArgs(values ...any) (Args, error) {
	args := make(Args, 0, len(values))
	for i, v := range values {
		if raw, ok := v.(json.RawMessage); ok {
			if raw == nil {
				raw = json.RawMessage("null")
			}
			args = append(args, raw)
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput,
				fmt.Sprintf("encode argument %d", i))
		}
		args = append(args, data)
	}
	return args, nil
}

// Len returns the number of arguments.
func (a Args) Len() int {
	return len(a)
}

// Raw returns argument i, or nil when absent.
func (a Args) Raw(i int) json.RawMessage {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// Has reports whether argument i is present and not null.
func (a Args) Has(i int) bool {
	raw := a.Raw(i)
	return raw != nil && string(bytes.TrimSpace(raw)) != "null"
}

// Decode unmarshals argument i into v. An absent argument leaves v untouched.
func (a Args) Decode(i int, v any) error {
	raw := a.Raw(i)
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, fmt.Sprintf("argument %d", i))
	}
	return nil
}

// String decodes argument i as a string.
func (a Args) String(i int) (string, error) {
	var s string
	if !a.Has(i) {
		return "", errors.InvalidInput(fmt.Sprintf("argument %d: string required", i))
	}
	if err := a.Decode(i, &s); err != nil {
		return "", err
	}
	return s, nil
}

// Value decodes argument i into a plain Go value (nil, bool, float64,
// string, []any or map[string]any). Absent or undecodable arguments are nil.
func (a Args) Value(i int) any {
	var v any
	if err := a.Decode(i, &v); err != nil {
		return nil
	}
	return v
}

// callbackID extracts the id from a trailing {"callbackId": n} argument.
// Zero is not a valid id.
func callbackID(raw json.RawMessage) (int, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return 0, false
	}
	var ref struct {
		CallbackID *int `json:"callbackId"`
	}
	if err := json.Unmarshal(trimmed, &ref); err != nil || ref.CallbackID == nil || *ref.CallbackID == 0 {
		return 0, false
	}
	return *ref.CallbackID, true
}
