package workerpool

import (
	"encoding/json"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
)

// Clonable lets a payload type provide its own deep copy instead of
// going through the JSON round-trip fallback.
type Clonable interface {
	Clone() any
}

// cloneEnvelope deep-copies the business payload of an envelope before
// it crosses a real channel, so units can never share mutable state by
// reference. Values listed in `transfer` are moved instead of copied.
// Protocol fields and the transferable Endpoint ride along untouched.
func cloneEnvelope(env Envelope, transfer []any) (Envelope, error) {
	out := env
	if env.Data != nil {
		data, err := cloneValue(env.Data, transfer)
		if err != nil {
			return out, err
		}
		out.Data = data
	}
	if len(env.Args) > 0 {
		args := make([]any, len(env.Args))
		for i, arg := range env.Args {
			cloned, err := cloneValue(arg, transfer)
			if err != nil {
				return out, err
			}
			args[i] = cloned
		}
		out.Args = args
	}
	if env.PreviousEvent != nil {
		prev, err := cloneEnvelope(*env.PreviousEvent, transfer)
		if err != nil {
			return out, err
		}
		out.PreviousEvent = &prev
	}
	return out, nil
}

func cloneValue(val any, transfer []any) (any, error) {
	if val == nil {
		return nil, nil
	}
	if isTransferred(val, transfer) {
		return val, nil
	}

	if clonable, ok := val.(Clonable); ok {
		return clonable.Clone(), nil
	}
	if msg, ok := val.(proto.Message); ok {
		return proto.Clone(msg), nil
	}

	switch reflect.ValueOf(val).Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return val, nil
	}

	buf, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCloneable, err)
	}
	var cloned any
	if err := json.Unmarshal(buf, &cloned); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCloneable, err)
	}
	return cloned, nil
}

// isTransferred matches by identity, not equality: only the very
// value handed to the send call is moved.
func isTransferred(val any, transfer []any) bool {
	for _, item := range transfer {
		if item == nil {
			continue
		}
		if sameIdentity(val, item) {
			return true
		}
	}
	return false
}

func sameIdentity(a, b any) bool {
	ra := reflect.ValueOf(a)
	rb := reflect.ValueOf(b)
	if ra.Kind() != rb.Kind() {
		return false
	}
	switch ra.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.Map, reflect.Slice, reflect.Func, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	}
	return false
}
