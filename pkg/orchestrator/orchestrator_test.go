package orchestrator

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/gomcpgo/replicate_image_edit/pkg/dispatcher"
	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/plan"
	"github.com/gomcpgo/replicate_image_edit/pkg/segmentation"
	"github.com/gomcpgo/replicate_image_edit/pkg/store"
)

func testImage(t *testing.T, c color.NRGBA) *imageref.Image {
	t.Helper()
	m := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(m.Pix); i += 4 {
		m.Pix[i], m.Pix[i+1], m.Pix[i+2], m.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	img, err := imageref.EncodePNG(m)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

type stubDirect struct {
	out   *imageref.Image
	err   error
	calls int
}

func (s *stubDirect) Edit(ctx context.Context, img *imageref.Image, instruction string) (*imageref.Image, error) {
	s.calls++
	return s.out, s.err
}

type stubPlanner struct {
	plan       *plan.Plan
	planErr    error
	sceneCalls int
	planCalls  int
}

func (s *stubPlanner) AnalyzeScene(ctx context.Context, img *imageref.Image) (*plan.SceneAnalysis, error) {
	s.sceneCalls++
	return &plan.SceneAnalysis{Description: "a desk"}, nil
}

func (s *stubPlanner) PlanEdit(ctx context.Context, scene *plan.SceneAnalysis, instruction string) (*plan.Plan, error) {
	s.planCalls++
	return s.plan, s.planErr
}

type notFoundSegmenter struct{ calls int }

func (s *notFoundSegmenter) Resolve(ctx context.Context, img *imageref.Image, label string) (segmentation.Result, error) {
	s.calls++
	return segmentation.Result{Found: false}, nil
}

type countingInpainter struct{ calls int }

func (c *countingInpainter) Inpaint(ctx context.Context, img, mask *imageref.Image, prompt string) (*imageref.Image, error) {
	c.calls++
	return img, nil
}

type stubReporter struct{}

func (stubReporter) Report(ctx context.Context, img *imageref.Image, question string) (string, error) {
	return "one logo, top-right", nil
}

type failingRelighter struct{ calls int }

func (f *failingRelighter) Relight(ctx context.Context, img *imageref.Image, lighting string) (*imageref.Image, error) {
	f.calls++
	return nil, editerr.Fatal("relight", "model failed")
}

func TestEdit_DirectSuccess(t *testing.T) {
	src := testImage(t, color.NRGBA{0, 0, 255, 255})
	edited := testImage(t, color.NRGBA{255, 0, 0, 255})
	direct := &stubDirect{out: edited}
	planner := &stubPlanner{}
	mem := store.NewMemoryStore(time.Minute, 0)
	o := New(direct, planner, dispatcher.New(dispatcher.Capabilities{}, nil), mem, nil)

	res, err := o.Edit(context.Background(), Request{Image: src, Instruction: "make it red"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Strategy != StrategyDirect || res.FellBack {
		t.Errorf("unexpected result %+v", res)
	}
	if planner.sceneCalls != 0 {
		t.Error("planner must not run when direct succeeds")
	}
	got, err := mem.Get(context.Background(), res.Handle)
	if err != nil || got != edited {
		t.Errorf("expected edited image stored under handle, got %v", err)
	}
	if in, err := mem.Get(context.Background(), res.InputHandle); err != nil || in != src {
		t.Errorf("expected input stored, got %v", err)
	}
	if res.SessionID == "" {
		t.Error("expected session id")
	}
}

func TestEdit_FallsBackExactlyOnce(t *testing.T) {
	src := testImage(t, color.NRGBA{0, 0, 255, 255})
	direct := &stubDirect{err: editerr.Fatal("direct_edit", "content flagged")}
	relight := &failingRelighter{}
	planner := &stubPlanner{plan: &plan.Plan{Operations: []plan.Operation{plan.Relight{Lighting: "warm"}}}}
	o := New(direct, planner, dispatcher.New(dispatcher.Capabilities{Relighter: relight}, nil), nil, nil)

	res, err := o.Edit(context.Background(), Request{Image: src, Instruction: "warmer light"})
	if err == nil {
		t.Fatal("expected planned failure")
	}
	if direct.calls != 1 || planner.planCalls != 1 || relight.calls != 1 {
		t.Errorf("expected one attempt per strategy, got direct=%d plan=%d relight=%d", direct.calls, planner.planCalls, relight.calls)
	}
	if !res.FellBack || res.Strategy != StrategyPlanned || res.DirectErr == nil {
		t.Errorf("expected fallback recorded, got %+v", res)
	}
	if res.Image != src || res.FailedIndex != 0 {
		t.Error("expected original image as last good result")
	}
}

func TestEdit_PlannedDoesNotFallBack(t *testing.T) {
	direct := &stubDirect{out: testImage(t, color.NRGBA{1, 2, 3, 255})}
	planner := &stubPlanner{planErr: editerr.Parse("edit plan", "{", errors.New("unexpected end"))}
	o := New(direct, planner, dispatcher.New(dispatcher.Capabilities{}, nil), nil, nil)

	_, err := o.Edit(context.Background(), Request{Image: testImage(t, color.NRGBA{0, 0, 0, 255}), Instruction: "x", Strategy: StrategyPlanned})
	if !editerr.Is(err, editerr.KindParse) {
		t.Errorf("expected parse error, got %v", err)
	}
	if direct.calls != 0 {
		t.Error("planned strategy must not fall back to direct")
	}
}

func TestEdit_NoFallbackOnValidationOrCancel(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		cancel bool
	}{
		{"validation", editerr.Validation("direct_edit", "bad input"), false},
		{"canceled", editerr.Wrap("direct_edit", context.Canceled), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}
			planner := &stubPlanner{plan: &plan.Plan{}}
			o := New(&stubDirect{err: tt.err}, planner, dispatcher.New(dispatcher.Capabilities{}, nil), nil, nil)
			if _, err := o.Edit(ctx, Request{Image: testImage(t, color.NRGBA{0, 0, 0, 255}), Instruction: "x"}); err == nil {
				t.Fatal("expected error")
			}
			if planner.sceneCalls != 0 {
				t.Error("expected no fallback")
			}
		})
	}
}

func TestEdit_RemoteRejectionFallsBack(t *testing.T) {
	rejected := editerr.FromHTTPStatus("edit_image", 422, `{"detail":"input_image: unsupported"}`, nil)
	direct := &stubDirect{err: rejected}
	planner := &stubPlanner{plan: &plan.Plan{}}
	o := New(direct, planner, dispatcher.New(dispatcher.Capabilities{}, nil), nil, nil)

	res, err := o.Edit(context.Background(), Request{Image: testImage(t, color.NRGBA{0, 0, 0, 255}), Instruction: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.FellBack || res.Strategy != StrategyPlanned || planner.sceneCalls != 1 {
		t.Errorf("expected planned fallback after remote rejection, got %+v", res)
	}
	if !errors.Is(res.DirectErr, rejected) {
		t.Errorf("direct error = %v", res.DirectErr)
	}
}

func TestEdit_EmptyPlanIsUnsuccessfulWithoutError(t *testing.T) {
	src := testImage(t, color.NRGBA{0, 0, 255, 255})
	o := New(nil, &stubPlanner{plan: &plan.Plan{Reasoning: "nothing to do"}}, dispatcher.New(dispatcher.Capabilities{}, nil), nil, nil)

	res, err := o.Edit(context.Background(), Request{Image: src, Instruction: "make it nicer", Strategy: StrategyPlanned})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Success || res.Message != NoPlanMessage {
		t.Errorf("expected unsuccessful result, got %+v", res)
	}
	if res.Image != src {
		t.Error("expected source image untouched")
	}
}

func TestEdit_RemoveMissingTarget(t *testing.T) {
	src := testImage(t, color.NRGBA{0, 0, 255, 255})
	seg := &notFoundSegmenter{}
	inpaint := &countingInpainter{}
	planner := &stubPlanner{plan: &plan.Plan{Operations: []plan.Operation{plan.Remove{Target: "red mug"}}}}
	exec := dispatcher.New(dispatcher.Capabilities{Segmenter: seg, Inpainter: inpaint}, nil)
	o := New(nil, planner, exec, nil, nil)

	res, err := o.Edit(context.Background(), Request{Image: src, Instruction: "remove the red mug", Strategy: StrategyPlanned})
	if err == nil || !strings.Contains(err.Error(), "could not find target") {
		t.Fatalf("expected not-found failure, got %v", err)
	}
	if res.Success || res.Image != src {
		t.Error("expected unsuccessful result with the original image")
	}
	if inpaint.calls != 0 {
		t.Errorf("expected zero transform calls, got %d", inpaint.calls)
	}
	if seg.calls != 1 {
		t.Errorf("expected one segmentation call, got %d", seg.calls)
	}
}

func TestEdit_DetectKeepsImageIdentity(t *testing.T) {
	src := testImage(t, color.NRGBA{0, 0, 255, 255})
	planner := &stubPlanner{plan: &plan.Plan{Operations: []plan.Operation{plan.Detect{Target: "logos"}}}}
	mem := store.NewMemoryStore(time.Minute, 0)
	o := New(nil, planner, dispatcher.New(dispatcher.Capabilities{Reporter: stubReporter{}}, nil), mem, nil)

	res, err := o.Edit(context.Background(), Request{Image: src, Instruction: "find logos", Strategy: StrategyPlanned})
	if err != nil {
		t.Fatal(err)
	}
	if res.Image != src || res.Image.Digest() != src.Digest() {
		t.Error("detect must return the input image")
	}
	if res.Handle != res.InputHandle {
		t.Error("unchanged image should reuse the input handle")
	}
	if res.Steps[0].Report == "" {
		t.Error("expected report in step trace")
	}
}

func TestEdit_RequiresInput(t *testing.T) {
	o := New(nil, nil, nil, nil, nil)
	if _, err := o.Edit(context.Background(), Request{Instruction: "x"}); !editerr.Is(err, editerr.KindValidation) {
		t.Errorf("expected validation error for missing image, got %v", err)
	}
	if _, err := o.Edit(context.Background(), Request{Image: imageref.New([]byte("x")), Instruction: " "}); !editerr.Is(err, editerr.KindValidation) {
		t.Errorf("expected validation error for blank instruction, got %v", err)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyDirect, false},
		{"Direct", StrategyDirect, false},
		{"planned", StrategyPlanned, false},
		{"magic", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
