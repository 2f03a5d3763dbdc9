package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("constraint failed"), false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{fmt.Errorf("insert cookie: %w", errors.New("database is locked")), true},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := RetryOnConflict(context.Background(), policy, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	permanent := errors.New("no such table")
	err = RetryOnConflict(context.Background(), policy, "test", func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected immediate permanent error, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), policy, "test", func(context.Context) error {
		calls++
		return errors.New("database is locked")
	})
	if !IsSQLiteConflictError(err) || calls != 3 {
		t.Fatalf("expected conflict after 3 attempts, got err=%v calls=%d", err, calls)
	}
}
