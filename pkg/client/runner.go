package client

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/retry"
	"github.com/gomcpgo/replicate_image_edit/pkg/types"
)

// Runner runs one model prediction end to end: submit, poll, return the
// terminal prediction. Submissions retry under the submit policy; the whole
// run retries under the model policy.
type Runner struct {
	client  Client
	submit  retry.Policy
	model   retry.Policy
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunner creates a Runner. timeout bounds each poll wait.
func NewRunner(c Client, submit, model retry.Policy, timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{client: c, submit: submit, model: model, timeout: timeout, logger: logger}
}

// Run submits input to model and waits for the terminal prediction.
func (r *Runner) Run(ctx context.Context, op, model string, input map[string]interface{}) (*types.ReplicatePredictionResponse, error) {
	return retry.Do(ctx, r.model, op, func(ctx context.Context) (*types.ReplicatePredictionResponse, error) {
		started := time.Now()
		prediction, err := retry.Do(ctx, r.submit, op+": submit", func(ctx context.Context) (*types.ReplicatePredictionResponse, error) {
			return r.client.CreatePrediction(ctx, model, input)
		})
		if err != nil {
			return nil, retry.Stop(err)
		}

		result, err := r.client.WaitForCompletion(ctx, prediction.ID, r.timeout)
		if err != nil {
			return nil, editerr.Wrap(op, err)
		}
		r.logger.Debug("prediction finished",
			zap.String("operation", op),
			zap.String("model", model),
			zap.String("prediction_id", prediction.ID),
			zap.Duration("elapsed", time.Since(started)),
		)
		return result, nil
	})
}

// RunForText runs a prediction and flattens its text output.
func (r *Runner) RunForText(ctx context.Context, op, model string, input map[string]interface{}) (string, error) {
	result, err := r.Run(ctx, op, model, input)
	if err != nil {
		return "", err
	}
	text := OutputText(result)
	if strings.TrimSpace(text) == "" {
		return "", editerr.Fatal(op, "model returned no text")
	}
	return text, nil
}

var outputKeys = []string{"image", "output", "url", "file", "mask"}

// OutputURL extracts the first image reference from a prediction output.
// Outputs may be a string, an array of strings, or an object keyed by one of
// image, output, url, file or mask.
func OutputURL(op string, result *types.ReplicatePredictionResponse) (string, error) {
	if url := firstString(result.Output); url != "" {
		return url, nil
	}
	if outputMap, ok := result.Output.(map[string]interface{}); ok {
		for _, key := range outputKeys {
			if url := firstString(outputMap[key]); url != "" {
				return url, nil
			}
		}
	}
	return "", editerr.Fatal(op, "no output URL in result")
}

// OutputURLs returns every image reference in an array output, or the
// single one from OutputURL.
func OutputURLs(op string, result *types.ReplicatePredictionResponse) ([]string, error) {
	if outputs, ok := result.Output.([]interface{}); ok {
		var urls []string
		for _, o := range outputs {
			if s, ok := o.(string); ok && s != "" {
				urls = append(urls, s)
			}
		}
		return urls, nil
	}
	if outputMap, ok := result.Output.(map[string]interface{}); ok {
		if masks, ok := outputMap["masks"].([]interface{}); ok {
			var urls []string
			for _, o := range masks {
				if s, ok := o.(string); ok && s != "" {
					urls = append(urls, s)
				}
			}
			return urls, nil
		}
	}
	url, err := OutputURL(op, result)
	if err != nil {
		return nil, err
	}
	return []string{url}, nil
}

// OutputText flattens a language-model output. Streaming models return a
// token array which is joined without separators.
func OutputText(result *types.ReplicatePredictionResponse) string {
	switch out := result.Output.(type) {
	case string:
		return out
	case []interface{}:
		var b strings.Builder
		for _, tok := range out {
			if s, ok := tok.(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	case map[string]interface{}:
		for _, key := range []string{"text", "output", "caption"} {
			if s, ok := out[key].(string); ok {
				return s
			}
		}
	}
	return ""
}

func firstString(v interface{}) string {
	switch out := v.(type) {
	case string:
		return out
	case []interface{}:
		if len(out) > 0 {
			if s, ok := out[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
