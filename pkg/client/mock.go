package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/types"
)

// OnePixelPNG is a 1x1 transparent PNG data URL, the default mock output.
const OnePixelPNG = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

// MockClient is a mock implementation of the Client interface for testing
type MockClient struct {
	// Control behavior
	ResponseDelay time.Duration // How long predictions take to complete
	PollInterval  time.Duration
	ShouldFail    bool   // Whether submissions should fail
	FailMessage   string // Custom failure message

	// Outputs maps a model prefix (e.g. "lucataco/remove-bg") to the output
	// a succeeded prediction returns. Unmatched models return OnePixelPNG.
	Outputs map[string]interface{}
	// Failures maps a model prefix to a prediction error message; matching
	// predictions end in the failed state.
	Failures map[string]string
	// SubmitErrors are returned, in order, by the next CreatePrediction calls.
	SubmitErrors []error
	// PollErrors are returned, in order, by the next GetPrediction calls.
	PollErrors []error

	// Track calls for assertions
	CreateCalls []CreateCall
	GetCalls    []string
	CancelCalls []string

	// Predictions state
	predictions map[string]*MockPrediction
	mu          sync.Mutex
}

// CreateCall records a call to CreatePrediction
type CreateCall struct {
	ModelVersion string
	Input        map[string]interface{}
	Timestamp    time.Time
}

// MockPrediction represents a mock prediction
type MockPrediction struct {
	ID         string
	Model      string
	Status     string
	StartTime  time.Time
	CompleteAt time.Time
	Output     interface{}
	Error      interface{}
}

// NewMockClient creates a new mock client whose predictions complete on
// the first poll.
func NewMockClient() *MockClient {
	return &MockClient{
		PollInterval: 5 * time.Millisecond,
		Outputs:      make(map[string]interface{}),
		Failures:     make(map[string]string),
		predictions:  make(map[string]*MockPrediction),
	}
}

// CreatePrediction creates a mock prediction
func (m *MockClient) CreatePrediction(ctx context.Context, modelVersion string, input map[string]interface{}) (*types.ReplicatePredictionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Record the call
	m.CreateCalls = append(m.CreateCalls, CreateCall{
		ModelVersion: modelVersion,
		Input:        input,
		Timestamp:    time.Now(),
	})

	if len(m.SubmitErrors) > 0 {
		err := m.SubmitErrors[0]
		m.SubmitErrors = m.SubmitErrors[1:]
		return nil, err
	}
	if m.ShouldFail {
		msg := m.FailMessage
		if msg == "" {
			msg = "mock client configured to fail"
		}
		return nil, editerr.Fatal("create_prediction", "%s", msg)
	}

	predID := fmt.Sprintf("mock-pred-%d", len(m.predictions)+1)
	pred := &MockPrediction{
		ID:         predID,
		Model:      modelVersion,
		Status:     types.StatusStarting,
		StartTime:  time.Now(),
		CompleteAt: time.Now().Add(m.ResponseDelay),
		Output:     OnePixelPNG,
	}
	if out, ok := lookup(m.Outputs, modelVersion); ok {
		pred.Output = out
	}
	if msg, ok := lookup(m.Failures, modelVersion); ok {
		pred.Error = msg
	}
	m.predictions[predID] = pred

	return &types.ReplicatePredictionResponse{
		ID:        predID,
		Status:    types.StatusStarting,
		CreatedAt: pred.StartTime.Format(time.RFC3339),
	}, nil
}

// GetPrediction gets the status of a mock prediction
func (m *MockClient) GetPrediction(ctx context.Context, predictionID string) (*types.ReplicatePredictionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Record the call
	m.GetCalls = append(m.GetCalls, predictionID)

	if len(m.PollErrors) > 0 {
		err := m.PollErrors[0]
		m.PollErrors = m.PollErrors[1:]
		return nil, err
	}

	pred, exists := m.predictions[predictionID]
	if !exists {
		return nil, editerr.NotFound("get_prediction", "prediction not found: %s", predictionID)
	}

	resp := &types.ReplicatePredictionResponse{
		ID:        predictionID,
		Status:    types.StatusProcessing,
		CreatedAt: pred.StartTime.Format(time.RFC3339),
	}
	switch {
	case pred.Status == types.StatusCanceled:
		resp.Status = types.StatusCanceled
	case time.Now().Before(pred.CompleteAt):
		// still running
	case pred.Error != nil:
		resp.Status = types.StatusFailed
		resp.Error = pred.Error
	default:
		resp.Status = types.StatusSucceeded
		resp.Output = pred.Output
	}
	return resp, nil
}

// WaitForCompletion waits for a mock prediction to complete
func (m *MockClient) WaitForCompletion(ctx context.Context, predictionID string, timeout time.Duration) (*types.ReplicatePredictionResponse, error) {
	interval := m.PollInterval
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}
	return waitForCompletion(ctx, m, predictionID, timeout, interval, zap.NewNop())
}

// CancelPrediction cancels a mock prediction
func (m *MockClient) CancelPrediction(ctx context.Context, predictionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CancelCalls = append(m.CancelCalls, predictionID)

	pred, exists := m.predictions[predictionID]
	if !exists {
		return editerr.NotFound("cancel_prediction", "prediction not found: %s", predictionID)
	}
	pred.Status = types.StatusCanceled
	return nil
}

// Helper methods for testing

// SetOutput scripts the output for predictions of models matching prefix
func (m *MockClient) SetOutput(prefix string, output interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outputs[prefix] = output
}

// SetFailure makes predictions of models matching prefix end in failed
func (m *MockClient) SetFailure(prefix, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures[prefix] = message
}

// CallsFor returns the recorded submissions for models matching prefix
func (m *MockClient) CallsFor(prefix string) []CreateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var calls []CreateCall
	for _, c := range m.CreateCalls {
		if strings.HasPrefix(c.ModelVersion, prefix) {
			calls = append(calls, c)
		}
	}
	return calls
}

// TotalCalls returns how many predictions were submitted
func (m *MockClient) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CreateCalls)
}

// lookup finds the entry whose key is the longest prefix of model.
func lookup[V any](entries map[string]V, model string) (V, bool) {
	var best V
	bestLen := -1
	for prefix, v := range entries {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = v, len(prefix)
		}
	}
	return best, bestLen >= 0
}

// Ensure MockClient implements the Client interface
var _ Client = (*MockClient)(nil)
