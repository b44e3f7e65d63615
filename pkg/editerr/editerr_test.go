package editerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestFromHTTPStatus_Classification(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{400, KindFatal},
		{401, KindFatal},
		{402, KindFatal},
		{404, KindFatal},
		{408, KindTransient},
		{422, KindFatal},
		{429, KindTransient},
		{500, KindTransient},
		{502, KindTransient},
		{503, KindTransient},
	}
	for _, tt := range tests {
		err := FromHTTPStatus("create_prediction", tt.status, "body", nil)
		if err.Kind != tt.want {
			t.Errorf("status %d: expected %s, got %s", tt.status, tt.want, err.Kind)
		}
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	d := 7 * time.Second
	err := fmt.Errorf("submit: %w", FromHTTPStatus("create_prediction", 429, "slow down", &d))

	if !IsRateLimited(err) {
		t.Fatal("expected rate-limited error")
	}
	got, ok := RetryAfterOf(err)
	if !ok || got != d {
		t.Errorf("expected retry-after %v, got %v (ok=%v)", d, got, ok)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if d := ParseRetryAfter("12", now); d == nil || *d != 12*time.Second {
		t.Errorf("expected 12s, got %v", d)
	}
	if d := ParseRetryAfter("Mon, 01 Jan 2024 12:00:30 GMT", now); d == nil || *d != 30*time.Second {
		t.Errorf("expected 30s, got %v", d)
	}
	if d := ParseRetryAfter("soon", now); d != nil {
		t.Errorf("expected nil for garbage, got %v", *d)
	}
	if d := ParseRetryAfter("", now); d != nil {
		t.Errorf("expected nil for empty header, got %v", *d)
	}
}

func TestWrapKeepsKindAndAddsOp(t *testing.T) {
	inner := Transient("create_prediction", "overloaded")
	wrapped := Wrap("inpaint", fmt.Errorf("call: %w", inner))

	if wrapped.Kind != KindTransient {
		t.Errorf("expected transient, got %s", wrapped.Kind)
	}
	if !strings.HasPrefix(wrapped.Error(), "inpaint: ") {
		t.Errorf("expected op prefix, got %q", wrapped.Error())
	}

	plain := Wrap("inpaint", errors.New("boom"))
	if plain.Kind != KindFatal {
		t.Errorf("expected unclassified error to be fatal, got %s", plain.Kind)
	}
}

func TestParseErrorDetails(t *testing.T) {
	text := strings.Repeat("x", 200)
	err := Parse("edit_plan", text, errors.New("unexpected end of JSON input"))

	if err.Kind != KindParse {
		t.Fatalf("expected parse kind, got %s", err.Kind)
	}
	if err.Details["length"] != 200 {
		t.Errorf("expected length 200, got %v", err.Details["length"])
	}
	tail, _ := err.Details["tail"].(string)
	if !strings.HasPrefix(tail, "...") || len(tail) != 83 {
		t.Errorf("unexpected tail %q", tail)
	}
	if err.Details["context"] != "edit_plan" {
		t.Errorf("expected context label, got %v", err.Details["context"])
	}
}
