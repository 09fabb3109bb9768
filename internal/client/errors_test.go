package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantKind   ErrorKind
	}{
		{"too many requests", 429, "quota exceeded", KindTransient},
		{"request timeout", 408, "", KindTransient},
		{"bad gateway", 502, "upstream down", KindTransient},
		{"service unavailable", 503, "", KindTransient},
		{"internal error", 500, "boom", KindTransient},
		{"bad request", 400, "invalid prompt", KindPermanent},
		{"unauthorized", 401, "invalid api key", KindPermanent},
		{"forbidden", 403, "", KindPermanent},
		{"rate limit hidden in 400", 400, "Requests rate limit exceeded", KindTransient},
		{"throttling hidden in 400", 400, "Throttling.User", KindTransient},
		{"timeout wording", 400, "upstream timed out", KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := classifyHTTP("dashscope.test", tt.statusCode, tt.body)
			if se.Kind != tt.wantKind {
				t.Errorf("classifyHTTP(%d, %q).Kind = %s, want %s", tt.statusCode, tt.body, se.Kind, tt.wantKind)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(Transient("op", errors.New("x"))) {
		t.Error("IsTransient(Transient) = false")
	}
	if IsTransient(Permanent("op", errors.New("x"))) {
		t.Error("IsTransient(Permanent) = true")
	}
	if !IsTransient(fmt.Errorf("call failed: %w", Transient("op", errors.New("x")))) {
		t.Error("IsTransient(wrapped Transient) = false")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("IsTransient(DeadlineExceeded) = false")
	}
	if IsTransient(context.Canceled) {
		t.Error("IsTransient(Canceled) = true")
	}
	if IsTransient(errors.New("unknown")) {
		t.Error("IsTransient(unclassified) = true")
	}
}
