package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/retry"
	"github.com/gomcpgo/replicate_image_edit/pkg/types"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func testPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Sleep: noSleep}
}

func TestCreatePrediction_Routing(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path == "/predictions" && body["version"] != "abc123" {
			t.Errorf("expected version abc123, got %v", body["version"])
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p1","status":"starting"}`))
	}))
	defer srv.Close()

	c := NewReplicateClient("tok", WithBaseURL(srv.URL))
	if _, err := c.CreatePrediction(context.Background(), "owner/model:abc123", map[string]interface{}{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreatePrediction(context.Background(), "owner/model", map[string]interface{}{}); err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 || paths[0] != "/predictions" || paths[1] != "/models/owner/model/predictions" {
		t.Errorf("unexpected paths %v", paths)
	}
}

func TestCreatePrediction_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		kind       editerr.Kind
		rateLimit  bool
	}{
		{"rate limited", http.StatusTooManyRequests, "7", editerr.KindTransient, true},
		{"unavailable", http.StatusServiceUnavailable, "", editerr.KindTransient, false},
		{"unprocessable", http.StatusUnprocessableEntity, "", editerr.KindFatal, false},
		{"unauthorized", http.StatusUnauthorized, "", editerr.KindFatal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"detail":"nope"}`))
			}))
			defer srv.Close()

			c := NewReplicateClient("tok", WithBaseURL(srv.URL))
			_, err := c.CreatePrediction(context.Background(), "owner/model", nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := editerr.KindOf(err); got != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, got)
			}
			if editerr.IsRateLimited(err) != tt.rateLimit {
				t.Errorf("rate limited = %v, want %v", editerr.IsRateLimited(err), tt.rateLimit)
			}
			if tt.retryAfter != "" {
				d, ok := editerr.RetryAfterOf(err)
				if !ok || d != 7*time.Second {
					t.Errorf("expected 7s retry-after, got %v %v", d, ok)
				}
			}
		})
	}
}

func TestWaitForCompletion_TerminalStatuses(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		kind     editerr.Kind
		canceled bool
	}{
		{"failed", types.StatusFailed, editerr.KindFatal, false},
		{"canceled", types.StatusCanceled, editerr.KindFatal, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"id":     "p1",
					"status": tt.status,
					"error":  "model exploded",
				})
			}))
			defer srv.Close()

			c := NewReplicateClient("tok", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
			pred, err := c.WaitForCompletion(context.Background(), "p1", time.Second)
			if err == nil {
				t.Fatal("expected error")
			}
			if pred == nil || pred.Status != tt.status {
				t.Errorf("expected last prediction with status %s", tt.status)
			}
			if editerr.KindOf(err) != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, editerr.KindOf(err))
			}
			if errors.Is(err, ErrPredictionCanceled) != tt.canceled {
				t.Errorf("canceled marker = %v, want %v", errors.Is(err, ErrPredictionCanceled), tt.canceled)
			}
		})
	}
}

func TestWaitForCompletion_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"p1","status":"processing"}`))
	}))
	defer srv.Close()

	c := NewReplicateClient("tok", WithBaseURL(srv.URL), WithPollInterval(2*time.Millisecond))
	_, err := c.WaitForCompletion(context.Background(), "p1", 10*time.Millisecond)
	if !editerr.Is(err, editerr.KindTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestRunner_RetriesRateLimitedSubmission(t *testing.T) {
	mock := NewMockClient()
	mock.SubmitErrors = []error{
		&editerr.Error{Kind: editerr.KindTransient, StatusCode: 429, Message: "slow down"},
		&editerr.Error{Kind: editerr.KindTransient, StatusCode: 429, Message: "slow down"},
	}
	mock.SetOutput("owner/upscaler", []interface{}{"https://example.com/out.png"})

	r := NewRunner(mock, testPolicy(5), testPolicy(3), time.Second, nil)
	result, err := r.Run(context.Background(), "upscale", "owner/upscaler:v1", map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	url, err := OutputURL("upscale", result)
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://example.com/out.png" {
		t.Errorf("unexpected url %q", url)
	}
	if mock.TotalCalls() != 3 {
		t.Errorf("expected 3 submissions, got %d", mock.TotalCalls())
	}
}

func TestRunner_ExhaustedSubmissionIsNotRetriedAgain(t *testing.T) {
	transient := &editerr.Error{Kind: editerr.KindTransient, StatusCode: 503, Message: "busy"}
	mock := NewMockClient()
	for i := 0; i < 10; i++ {
		mock.SubmitErrors = append(mock.SubmitErrors, transient)
	}

	r := NewRunner(mock, testPolicy(2), testPolicy(3), time.Second, nil)
	_, err := r.Run(context.Background(), "relight", "owner/relight", nil)
	if !editerr.IsTransient(err) {
		t.Fatalf("expected transient error to surface, got %v", err)
	}
	if mock.TotalCalls() != 2 {
		t.Errorf("expected 2 submissions, got %d", mock.TotalCalls())
	}
}

func TestRunner_PollErrorsDoNotResubmit(t *testing.T) {
	mock := NewMockClient()
	mock.PollInterval = time.Millisecond
	mock.PollErrors = []error{
		&editerr.Error{Kind: editerr.KindTransient, StatusCode: 502, Message: "bad gateway"},
		&editerr.Error{Kind: editerr.KindTransient, StatusCode: 503, Message: "busy"},
	}

	r := NewRunner(mock, testPolicy(5), testPolicy(3), time.Second, nil)
	if _, err := r.Run(context.Background(), "upscale", "owner/upscaler", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.TotalCalls() != 1 {
		t.Errorf("expected one submission, got %d", mock.TotalCalls())
	}
	if len(mock.GetCalls) != 3 {
		t.Errorf("expected 3 polls, got %d", len(mock.GetCalls))
	}
}

func TestWaitForCompletion_PollFailureLimit(t *testing.T) {
	mock := NewMockClient()
	mock.PollInterval = time.Millisecond
	pred, err := mock.CreatePrediction(context.Background(), "owner/model", nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i <= maxPollFailures; i++ {
		mock.PollErrors = append(mock.PollErrors, &editerr.Error{Kind: editerr.KindTransient, Message: "busy"})
	}

	if _, err := mock.WaitForCompletion(context.Background(), pred.ID, time.Second); !editerr.IsTransient(err) {
		t.Fatalf("expected transient error after repeated poll failures, got %v", err)
	}
	if len(mock.GetCalls) != maxPollFailures+1 {
		t.Errorf("expected %d polls, got %d", maxPollFailures+1, len(mock.GetCalls))
	}
}

func TestWaitForCompletion_FatalPollErrorStops(t *testing.T) {
	mock := NewMockClient()
	mock.PollInterval = time.Millisecond
	_, err := mock.WaitForCompletion(context.Background(), "missing", time.Second)
	if !editerr.Is(err, editerr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(mock.GetCalls) != 1 {
		t.Errorf("expected a single poll, got %d", len(mock.GetCalls))
	}
}

func TestRunner_FailedPredictionIsFatal(t *testing.T) {
	mock := NewMockClient()
	mock.SetFailure("owner/inpaint", "NSFW content detected")

	r := NewRunner(mock, testPolicy(5), testPolicy(3), time.Second, nil)
	_, err := r.Run(context.Background(), "inpaint", "owner/inpaint", nil)
	if editerr.KindOf(err) != editerr.KindFatal {
		t.Fatalf("expected fatal, got %v", err)
	}
	if !strings.Contains(err.Error(), "NSFW") {
		t.Errorf("expected prediction message in error, got %v", err)
	}
	if mock.TotalCalls() != 1 {
		t.Errorf("fatal failures must not retry, got %d calls", mock.TotalCalls())
	}
}

func TestOutputExtraction(t *testing.T) {
	tests := []struct {
		name   string
		output interface{}
		want   string
	}{
		{"string", "https://x/a.png", "https://x/a.png"},
		{"array", []interface{}{"https://x/b.png", "https://x/c.png"}, "https://x/b.png"},
		{"map image", map[string]interface{}{"image": "https://x/d.png"}, "https://x/d.png"},
		{"map mask list", map[string]interface{}{"mask": []interface{}{"https://x/e.png"}}, "https://x/e.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OutputURL("op", &types.ReplicatePredictionResponse{Output: tt.output})
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	if _, err := OutputURL("op", &types.ReplicatePredictionResponse{}); err == nil {
		t.Error("expected error for empty output")
	}
}

func TestOutputText_JoinsTokens(t *testing.T) {
	got := OutputText(&types.ReplicatePredictionResponse{Output: []interface{}{"{\"a\"", ": ", "1}"}})
	if got != `{"a": 1}` {
		t.Errorf("unexpected text %q", got)
	}
}
