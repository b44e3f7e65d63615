package config

import (
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/retry"
)

// TimeoutConfig holds all configurable timeout values
type TimeoutConfig struct {
	// MaxOperationTime bounds the wait for one prediction to finish
	MaxOperationTime time.Duration

	// PollInterval is how often to check prediction status
	PollInterval time.Duration
}

// DefaultTimeouts returns the default timeout configuration
func DefaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		MaxOperationTime: 10 * time.Minute,
		PollInterval:     2 * time.Second,
	}
}

// loadTimeouts applies REPLICATE_POLL_INTERVAL (seconds) and
// REPLICATE_MAX_OPERATION_TIME (minutes) over the defaults.
func loadTimeouts(v *viper.Viper) TimeoutConfig {
	config := DefaultTimeouts()

	if seconds := v.GetInt("replicate_poll_interval"); seconds > 0 {
		config.PollInterval = time.Duration(seconds) * time.Second
	}
	if minutes := v.GetInt("replicate_max_operation_time"); minutes > 0 {
		config.MaxOperationTime = time.Duration(minutes) * time.Minute
	}

	return config
}

// TestTimeouts returns timeout configuration suitable for testing
func TestTimeouts() TimeoutConfig {
	return TimeoutConfig{
		MaxOperationTime: 2 * time.Second,
		PollInterval:     10 * time.Millisecond,
	}
}

// RetryConfig sizes the two retry policies around every prediction.
type RetryConfig struct {
	ModelAttempts  int
	ModelBaseDelay time.Duration
	SubmitAttempts int
	RateLimitFloor time.Duration
}

// DefaultRetry returns three model attempts and five submissions with a
// 5s rate-limit floor.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		ModelAttempts:  3,
		ModelBaseDelay: time.Second,
		SubmitAttempts: 5,
		RateLimitFloor: 5 * time.Second,
	}
}

// TestRetry keeps attempt counts but shrinks every delay.
func TestRetry() RetryConfig {
	return RetryConfig{
		ModelAttempts:  3,
		ModelBaseDelay: time.Millisecond,
		SubmitAttempts: 5,
		RateLimitFloor: time.Millisecond,
	}
}

// Policies builds the submission and model retry policies.
func (r RetryConfig) Policies(logger *zap.Logger) (submit, model retry.Policy) {
	submit = retry.SubmitPolicy(logger)
	submit.MaxAttempts = r.SubmitAttempts
	submit.RateLimitFloor = r.RateLimitFloor
	if r.RateLimitFloor < submit.BaseDelay {
		submit.BaseDelay = r.RateLimitFloor
	}

	model = retry.ModelPolicy(logger)
	model.MaxAttempts = r.ModelAttempts
	model.BaseDelay = r.ModelBaseDelay
	return submit, model
}
