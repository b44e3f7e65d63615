package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/types"
)

const (
	replicateAPIURL = "https://api.replicate.com/v1"
)

// ErrPredictionCanceled marks a prediction that ended in the canceled state.
var ErrPredictionCanceled = errors.New("prediction was canceled")

// ReplicateClient handles communication with the Replicate API
type ReplicateClient struct {
	apiToken     string
	baseURL      string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
}

// Option customizes a ReplicateClient
type Option func(*ReplicateClient)

// WithBaseURL points the client at a different API root
func WithBaseURL(url string) Option {
	return func(c *ReplicateClient) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithPollInterval sets how often WaitForCompletion polls
func WithPollInterval(d time.Duration) Option {
	return func(c *ReplicateClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) Option {
	return func(c *ReplicateClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewReplicateClient creates a new Replicate API client
func NewReplicateClient(apiToken string, opts ...Option) *ReplicateClient {
	c := &ReplicateClient{
		apiToken:     apiToken,
		baseURL:      replicateAPIURL,
		pollInterval: 2 * time.Second,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreatePrediction creates a new prediction on Replicate
func (c *ReplicateClient) CreatePrediction(ctx context.Context, modelVersion string, input map[string]interface{}) (*types.ReplicatePredictionResponse, error) {
	var url string
	var body []byte
	var err error

	// Versioned IDs ("owner/name:hash") go to the predictions endpoint,
	// bare model names to the model's latest deployment.
	if strings.Contains(modelVersion, ":") {
		_, version, _ := strings.Cut(modelVersion, ":")
		body, err = json.Marshal(types.ReplicatePredictionRequest{
			Version: version,
			Input:   input,
		})
		url = fmt.Sprintf("%s/predictions", c.baseURL)
	} else {
		body, err = json.Marshal(map[string]interface{}{
			"input": input,
		})
		url = fmt.Sprintf("%s/models/%s/predictions", c.baseURL, modelVersion)
	}
	if err != nil {
		return nil, editerr.Validation("create_prediction", "failed to marshal request: %v", err)
	}

	c.logger.Debug("creating prediction",
		zap.String("url", url),
		zap.String("model", modelVersion),
		zap.Int("body_bytes", len(body)),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, editerr.Validation("create_prediction", "failed to create request: %v", err)
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiToken))
	httpReq.Header.Set("Content-Type", "application/json")

	var prediction types.ReplicatePredictionResponse
	if err := c.do(httpReq, "create_prediction", &prediction, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}

	c.logger.Debug("prediction created",
		zap.String("prediction_id", prediction.ID),
		zap.String("status", prediction.Status),
	)
	return &prediction, nil
}

// GetPrediction gets the status of a prediction
func (c *ReplicateClient) GetPrediction(ctx context.Context, predictionID string) (*types.ReplicatePredictionResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/predictions/%s", c.baseURL, predictionID), nil)
	if err != nil {
		return nil, editerr.Validation("get_prediction", "failed to create request: %v", err)
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiToken))

	var prediction types.ReplicatePredictionResponse
	if err := c.do(httpReq, "get_prediction", &prediction, http.StatusOK); err != nil {
		return nil, err
	}
	return &prediction, nil
}

// WaitForCompletion polls a prediction at the client's interval until it
// reaches a terminal status or timeout elapses. Exceeding the timeout is a
// timeout error; it returns the last observed prediction alongside it.
func (c *ReplicateClient) WaitForCompletion(ctx context.Context, predictionID string, timeout time.Duration) (*types.ReplicatePredictionResponse, error) {
	return waitForCompletion(ctx, c, predictionID, timeout, c.pollInterval, c.logger)
}

// CancelPrediction cancels a running prediction
func (c *ReplicateClient) CancelPrediction(ctx context.Context, predictionID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/predictions/%s/cancel", c.baseURL, predictionID), nil)
	if err != nil {
		return editerr.Validation("cancel_prediction", "failed to create request: %v", err)
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiToken))
	return c.do(httpReq, "cancel_prediction", nil, http.StatusOK)
}

// do sends a request and decodes the JSON body into out. Non-success
// statuses are classified into editerr kinds here, once.
func (c *ReplicateClient) do(req *http.Request, op string, out interface{}, okStatuses ...int) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return &editerr.Error{Kind: editerr.KindFatal, Op: op, Message: "request aborted", Err: err}
		}
		return &editerr.Error{Kind: editerr.KindTransient, Op: op, Message: "failed to send request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &editerr.Error{Kind: editerr.KindTransient, Op: op, Message: "failed to read response", Err: err}
	}

	ok := false
	for _, s := range okStatuses {
		if resp.StatusCode == s {
			ok = true
			break
		}
	}
	if !ok {
		retryAfter := editerr.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		detail := string(respBody)
		var errorResp map[string]interface{}
		if json.Unmarshal(respBody, &errorResp) == nil {
			if d, ok := errorResp["detail"].(string); ok {
				detail = d
			}
		}
		c.logger.Debug("replicate API error",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", truncate(detail, 300)),
		)
		return editerr.FromHTTPStatus(op, resp.StatusCode, detail, retryAfter)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &editerr.Error{Kind: editerr.KindFatal, Op: op, Message: "failed to unmarshal response", Err: err}
	}
	return nil
}

// maxPollFailures bounds consecutive transient poll errors tolerated while
// waiting on one prediction.
const maxPollFailures = 5

// waitForCompletion is shared by the real and mock clients.
func waitForCompletion(ctx context.Context, c Client, predictionID string, timeout, interval time.Duration, logger *zap.Logger) (*types.ReplicatePredictionResponse, error) {
	logger.Debug("waiting for prediction", zap.String("prediction_id", predictionID), zap.Duration("timeout", timeout))
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pollCount := 0
	pollFailures := 0
	var last *types.ReplicatePredictionResponse
	for {
		select {
		case <-ctx.Done():
			return last, &editerr.Error{Kind: editerr.KindFatal, Op: "wait_prediction", Message: "wait aborted", Err: ctx.Err()}
		case <-ticker.C:
			pollCount++
			prediction, err := c.GetPrediction(ctx, predictionID)
			if err != nil {
				// The prediction is still running remotely; poll again.
				if !editerr.IsTransient(err) || pollFailures >= maxPollFailures || time.Now().After(deadline) {
					return last, err
				}
				pollFailures++
				logger.Warn("prediction poll failed",
					zap.String("prediction_id", predictionID),
					zap.Int("failures", pollFailures),
					zap.Error(err),
				)
				continue
			}
			pollFailures = 0
			last = prediction

			logger.Debug("prediction poll",
				zap.String("prediction_id", predictionID),
				zap.Int("poll", pollCount),
				zap.String("status", prediction.Status),
			)
			switch prediction.Status {
			case types.StatusSucceeded:
				return prediction, nil
			case types.StatusFailed:
				e := editerr.Fatal("wait_prediction", "%s", prediction.ErrorMessage())
				e.Details = map[string]interface{}{"prediction_id": predictionID, "status": prediction.Status}
				return prediction, e
			case types.StatusCanceled:
				return prediction, &editerr.Error{
					Kind:    editerr.KindFatal,
					Op:      "wait_prediction",
					Message: ErrPredictionCanceled.Error(),
					Details: map[string]interface{}{"prediction_id": predictionID, "status": prediction.Status},
					Err:     ErrPredictionCanceled,
				}
			}

			if time.Now().After(deadline) {
				e := editerr.Timeout("wait_prediction", "operation timed out after %v", timeout)
				e.Details = map[string]interface{}{"prediction_id": predictionID, "polls": pollCount}
				return prediction, e
			}
			// Continue polling for "starting" or "processing" status
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
