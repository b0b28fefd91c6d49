package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tarediiran-industries.com/transit-tracker/internal/gateway"
)

// UnauthorizedBehavior selects what the default query function does with a
// 401 response.
type UnauthorizedBehavior int

const (
	// Throw surfaces the 401 as the gateway's *HTTPError.
	Throw UnauthorizedBehavior = iota
	// ReturnNull treats a 401 as "no data" and succeeds with nil.
	ReturnNull
)

func (behavior UnauthorizedBehavior) String() string {
	if behavior == ReturnNull {
		return "returnNull"
	}
	return "throw"
}

// DefaultQueryFunc GETs the key as a URL through gw and returns the raw
// JSON body.
func DefaultQueryFunc(gw *gateway.Gateway, on401 UnauthorizedBehavior) QueryFunc {
	return func(ctx context.Context, key Key) (any, error) {
		resp, err := gw.Request(ctx, http.MethodGet, key.String(), nil)
		if err != nil {
			if on401 == ReturnNull && gateway.IsUnauthorized(err) {
				return nil, nil
			}
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if len(raw) == 0 {
			return nil, nil
		}
		return json.RawMessage(raw), nil
	}
}
