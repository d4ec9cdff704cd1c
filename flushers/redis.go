package flushers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	batchz "github.com/zoobzio/batchz"
)

// RedisOption configures a RedisList flusher.
type RedisOption func(*redisOptions)

type redisOptions struct {
	maxLen int64
}

// WithMaxLen trims the list to its newest n entries after every flush.
// Zero or less disables trimming.
func WithMaxLen(n int64) RedisOption {
	return func(o *redisOptions) {
		o.maxLen = n
	}
}

// RedisList returns a flush function that appends each batch to the list at
// key in one pipelined round trip.
func RedisList[T any](client redis.Cmdable, key string, enc Encoder[T], opts ...RedisOption) batchz.FlushFunc[T] {
	var o redisOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, batch []T) error {
		if len(batch) == 0 {
			return nil
		}

		encoded, err := encodeAll(enc, batch)
		if err != nil {
			return errors.Wrap(err, "redis: encode")
		}
		values := make([]interface{}, len(encoded))
		for i, b := range encoded {
			values[i] = b
		}

		_, err = client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, values...)
			if o.maxLen > 0 {
				pipe.LTrim(ctx, key, -o.maxLen, -1)
			}
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "redis: push %d items to %s", len(values), key)
		}
		return nil
	}
}
