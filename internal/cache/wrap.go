// File: internal/cache/wrap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cache

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/momentics/hioload-lua/core/concurrency"
)

// ErrorSuffix marks error replies delivered as values.
const ErrorSuffix = "::ERROR"

// Wrap translates a reply into script data: a nil reply becomes
// concurrency.Null, errors become "<message>::ERROR" strings and arrays
// are translated element by element.
func Wrap(res any, err error) any {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return concurrency.Null
		}
		return err.Error() + ErrorSuffix
	}
	switch v := res.(type) {
	case nil:
		return concurrency.Null
	case error:
		return v.Error() + ErrorSuffix
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Wrap(item, nil)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(v))
		for k, item := range v {
			out[k] = Wrap(item, nil)
		}
		return out
	default:
		return v
	}
}
