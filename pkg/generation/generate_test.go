package generation

import (
	"context"
	"testing"
	"time"

	"github.com/gomcpgo/replicate_image_edit/pkg/client"
	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/retry"
)

func newGenerator(mock *client.MockClient, model string, wait time.Duration) *Generator {
	p := retry.Policy{MaxAttempts: 1, Sleep: func(context.Context, time.Duration) error { return nil }}
	return NewGenerator(client.NewRunner(mock, p, p, wait, nil), imageref.NewResolver(0, nil), model, 0, nil)
}

// TestGenerate_FastCompletion tests a prediction that completes within the wait
func TestGenerate_FastCompletion(t *testing.T) {
	mockClient := client.NewMockClient()
	mockClient.ResponseDelay = 20 * time.Millisecond

	img, err := newGenerator(mockClient, "", time.Second).Generate(context.Background(), "a beach at dusk", 1600, 900)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img == nil || img.MIMEType != "image/png" {
		t.Fatalf("expected png output, got %+v", img)
	}

	if len(mockClient.CreateCalls) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(mockClient.CreateCalls))
	}
	input := mockClient.CreateCalls[0].Input
	if input["aspect_ratio"] != "16:9" {
		t.Errorf("expected 16:9 aspect ratio, got %v", input["aspect_ratio"])
	}
	if _, ok := input["seed"]; ok {
		t.Error("seed should be omitted when not configured")
	}
}

func TestGenerate_ConfiguredModelAndSeed(t *testing.T) {
	mockClient := client.NewMockClient()
	p := retry.Policy{MaxAttempts: 1, Sleep: func(context.Context, time.Duration) error { return nil }}
	g := NewGenerator(client.NewRunner(mockClient, p, p, time.Second, nil), imageref.NewResolver(0, nil), "sdxl", 42, nil)

	if _, err := g.Generate(context.Background(), "a quiet harbor", 768, 512); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := mockClient.CallsFor(ModelSDXL)
	if len(calls) != 1 {
		t.Fatalf("expected 1 sdxl call, got %d", len(calls))
	}
	input := calls[0].Input
	if input["width"] != 768 || input["height"] != 512 || input["seed"] != 42 {
		t.Errorf("unexpected input %v", input)
	}
}

// TestGenerate_Timeout tests a prediction that outlasts the wait bound
func TestGenerate_Timeout(t *testing.T) {
	mockClient := client.NewMockClient()
	mockClient.ResponseDelay = time.Second

	_, err := newGenerator(mockClient, "", 30*time.Millisecond).Generate(context.Background(), "forest", 512, 512)
	if !editerr.Is(err, editerr.KindTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if len(mockClient.CreateCalls) != 1 {
		t.Errorf("timeouts must not be retried, got %d calls", len(mockClient.CreateCalls))
	}
}

// TestGenerate_FailureDuringWait tests a prediction that ends in failed
func TestGenerate_FailureDuringWait(t *testing.T) {
	mockClient := client.NewMockClient()
	mockClient.SetFailure(ModelFluxSchnell, "model crashed")

	_, err := newGenerator(mockClient, "", time.Second).Generate(context.Background(), "city", 512, 512)
	if err == nil {
		t.Fatal("expected error")
	}
	if editerr.KindOf(err) != editerr.KindFatal {
		t.Errorf("expected fatal kind, got %v", editerr.KindOf(err))
	}
}

func TestGenerateImage_RequiresPrompt(t *testing.T) {
	mockClient := client.NewMockClient()
	_, err := newGenerator(mockClient, "", time.Second).GenerateImage(context.Background(), GenerateParams{})
	if !editerr.Is(err, editerr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestBuildInputParams_SDXLUsesDimensions(t *testing.T) {
	g := newGenerator(client.NewMockClient(), "sdxl", time.Second)
	input := g.buildInputParams(GenerateParams{Prompt: "p", Width: 640}, ModelSDXL)
	if input["width"] != 640 || input["height"] != 1024 {
		t.Errorf("unexpected dimensions %v x %v", input["width"], input["height"])
	}
	if _, ok := input["aspect_ratio"]; ok {
		t.Error("sdxl should not receive aspect_ratio")
	}
}

func TestInferAspectRatio(t *testing.T) {
	tests := []struct {
		w, h int
		want string
	}{
		{1920, 1080, "16:9"},
		{1080, 1920, "9:16"},
		{1024, 768, "4:3"},
		{768, 1024, "3:4"},
		{1000, 1000, "1:1"},
		{0, 0, "1:1"},
	}
	for _, tt := range tests {
		if got := inferAspectRatio(tt.w, tt.h); got != tt.want {
			t.Errorf("inferAspectRatio(%d, %d) = %q, want %q", tt.w, tt.h, got, tt.want)
		}
	}
}
