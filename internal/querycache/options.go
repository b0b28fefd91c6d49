package querycache

import (
	"context"
	"strings"
	"time"

	"tarediiran-industries.com/transit-tracker/internal/common"
)

// Forever disables time-based staleness.
const Forever time.Duration = -1

type QueryFunc func(ctx context.Context, key Key) (any, error)

type MutationFunc func(ctx context.Context) (any, error)

type Options struct {
	// QueryFunc serves keys fetched without their own function.
	QueryFunc QueryFunc

	StaleTime       time.Duration
	RefetchInterval time.Duration
	RefetchOnFocus  bool

	Retry         uint
	MutationRetry uint
	// RetryDelay fixes the wait between retries; zero means exponential backoff.
	RetryDelay time.Duration

	Metrics *common.Metrics
}

// DefaultOptions fetches once and never refreshes or retries on its own.
func DefaultOptions() Options {
	return Options{
		StaleTime:       Forever,
		RefetchInterval: 0,
		RefetchOnFocus:  false,
		Retry:           0,
		MutationRetry:   0,
	}
}

// Key identifies a query. Conventionally a URL, possibly split into segments.
type Key []string

// String joins the segments with "/", which is also the URL the default
// query function requests.
func (key Key) String() string {
	return strings.Join(key, "/")
}

func (key Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(key) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

func memoKey(key Key) string {
	return strings.Join(key, "|")
}
