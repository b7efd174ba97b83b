package fetch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterAcquireRelease(t *testing.T) {
	l := NewLimiter(1000, 10, 2)

	var releases []func()
	for i := 0; i < 2; i++ {
		release, err := l.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		releases = append(releases, release)
	}

	// Both slots held: the next Acquire must block until a release.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("Acquire with full slots: err = %v, want ErrRateLimitTimeout", err)
	}

	releases[0]()
	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	release()
	releases[1]()
}

func TestLimiterRateCancellation(t *testing.T) {
	// One token per hour: the second Acquire cannot get a token and must
	// give up when the context does.
	l := NewLimiter(1.0/3600, 1, 4)

	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("err = %v, want ErrRateLimitTimeout", err)
	}
}

func TestLimiterClampsBounds(t *testing.T) {
	// Degenerate configuration must still yield a working limiter.
	l := NewLimiter(1000, 0, 0)
	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
}
