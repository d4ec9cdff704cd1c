// Package flushers provides ready-made batchz flush functions for common
// destinations.
package flushers

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Encoder turns one item into its wire representation.
type Encoder[T any] func(item T) ([]byte, error)

// JSON encodes items with encoding/json.
func JSON[T any]() Encoder[T] {
	return func(item T) ([]byte, error) {
		b, err := json.Marshal(item)
		if err != nil {
			return nil, errors.Wrap(err, "flushers: json encode")
		}
		return b, nil
	}
}

func encodeAll[T any](enc Encoder[T], batch []T) ([][]byte, error) {
	out := make([][]byte, 0, len(batch))
	for i, item := range batch {
		b, err := enc(item)
		if err != nil {
			return nil, errors.Wrapf(err, "item %d", i)
		}
		out = append(out, b)
	}
	return out, nil
}
