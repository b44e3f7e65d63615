package editing

import (
	"context"
	"testing"
	"time"

	"github.com/gomcpgo/replicate_image_edit/pkg/client"
	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/retry"
)

func newEditor(mock *client.MockClient, alias string) *Editor {
	p := retry.Policy{MaxAttempts: 1, Sleep: func(context.Context, time.Duration) error { return nil }}
	return NewEditor(client.NewRunner(mock, p, p, time.Second, nil), imageref.NewResolver(0, nil), alias, nil)
}

func TestEdit_SubmitsInstruction(t *testing.T) {
	mock := client.NewMockClient()
	src, err := imageref.NewResolver(0, nil).Resolve(context.Background(), client.OnePixelPNG)
	if err != nil {
		t.Fatal(err)
	}

	out, err := newEditor(mock, "").Edit(context.Background(), src, "  make the sky purple ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil || len(out.Data) == 0 {
		t.Fatal("expected output image")
	}

	calls := mock.CallsFor(ModelFluxKontextPro)
	if len(calls) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(calls))
	}
	if calls[0].Input["prompt"] != "make the sky purple" {
		t.Errorf("unexpected prompt %v", calls[0].Input["prompt"])
	}
	if calls[0].Input["input_image"] != src.DataURL() {
		t.Error("expected the source image as a data URL")
	}
}

func TestEdit_RequiresInstruction(t *testing.T) {
	mock := client.NewMockClient()
	_, err := newEditor(mock, "pro").Edit(context.Background(), imageref.New([]byte("x")), " ")
	if !editerr.Is(err, editerr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if mock.TotalCalls() != 0 {
		t.Error("expected no remote call")
	}
}

func TestEdit_FailurePropagates(t *testing.T) {
	mock := client.NewMockClient()
	mock.SetFailure(ModelFluxKontextMax, "content flagged")

	_, err := newEditor(mock, "max").Edit(context.Background(), imageref.New([]byte("x")), "add a hat")
	if editerr.KindOf(err) != editerr.KindFatal {
		t.Errorf("expected fatal error, got %v", err)
	}
}

func TestGetModelFromAlias(t *testing.T) {
	tests := map[string]string{
		"":            ModelFluxKontextPro,
		"max":         ModelFluxKontextMax,
		"kontext-dev": ModelFluxKontextDev,
		"unknown":     ModelFluxKontextPro,

		ModelFluxKontextMax: ModelFluxKontextMax,
		ModelFluxKontextDev: ModelFluxKontextDev,
	}
	for alias, want := range tests {
		if got := GetModelFromAlias(alias); got != want {
			t.Errorf("GetModelFromAlias(%q) = %q, want %q", alias, got, want)
		}
	}
}

func TestEdit_SelectedModelIsUsed(t *testing.T) {
	for _, model := range []string{"kontext-dev", ModelFluxKontextDev} {
		t.Run(model, func(t *testing.T) {
			mock := client.NewMockClient()
			src, err := imageref.NewResolver(0, nil).Resolve(context.Background(), client.OnePixelPNG)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := newEditor(mock, GetModelFromAlias(model)).Edit(context.Background(), src, "add a hat"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			calls := mock.CallsFor(ModelFluxKontextDev)
			if len(calls) != 1 {
				t.Fatalf("expected 1 call to %s, got %d (total %d)", ModelFluxKontextDev, len(calls), mock.TotalCalls())
			}
			if calls[0].Input["num_inference_steps"] != 30 {
				t.Errorf("expected dev inputs, got %v", calls[0].Input)
			}
		})
	}
}

func TestResizeInstruction(t *testing.T) {
	if got := ResizeInstruction("lamp", 1.5); got != "Make the lamp 50% larger. Keep everything else exactly the same." {
		t.Errorf("unexpected instruction %q", got)
	}
	if got := ResizeInstruction("lamp", 0.75); got != "Make the lamp 25% smaller. Keep everything else exactly the same." {
		t.Errorf("unexpected instruction %q", got)
	}
}
