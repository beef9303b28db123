package errdefs

import (
	"context"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsThroughWrapping(t *testing.T) {
	inner := New(PolicyDenied, "dynamic eval")
	outer := fmt.Errorf("execute: %w", inner)
	if KindOf(outer) != PolicyDenied {
		t.Fatalf("kind = %v", KindOf(outer))
	}
}

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{New(DiscoveryEmpty, "no tools"), 2},
		{New(PolicyDenied, "denied"), 3},
		{New(SandboxUnavailable, "no docker"), 4},
		{New(Timeout, "deadline"), 5},
		{New(ConfigError, "bad flag"), 1},
		{fmt.Errorf("wrapped: %w", New(Timeout, "deadline")), 5},
		{context.DeadlineExceeded, 5},
		{fmt.Errorf("plain"), 1},
	}
	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.code {
			t.Fatalf("ExitCode(%v) = %d, want %d", tc.err, got, tc.code)
		}
	}
}
