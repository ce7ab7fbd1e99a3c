package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrDecode marks a payload that can never be processed. Consumers drop it.
	ErrDecode = errors.New("messaging: decode failed")
	// ErrPermanent marks a handler failure that redelivery would not fix.
	ErrPermanent = errors.New("messaging: permanent failure")
)

// Payload is the closed set of event types the codec understands.
type Payload interface {
	OrderCreated | OrderUpdated | OrderDeleted | ProductDeleted | ProductNameUpdated
}

type validator interface {
	validate() error
}

func missing(field string) error {
	return fmt.Errorf("%w: missing required field %q", ErrDecode, field)
}

// Encode serializes an event body.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

// Decode parses an event body. Field names match case-insensitively and
// unknown fields are ignored.
func Decode[T Payload](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if vv, ok := any(v).(validator); ok {
		if err := vv.validate(); err != nil {
			return v, err
		}
	}
	return v, nil
}

// Requeue reports whether a handler error should lead to redelivery.
func Requeue(err error) bool {
	return err != nil && !errors.Is(err, ErrDecode) && !errors.Is(err, ErrPermanent)
}
