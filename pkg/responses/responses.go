package responses

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gomcpgo/replicate_image_edit/pkg/dispatcher"
	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/orchestrator"
	"github.com/gomcpgo/replicate_image_edit/pkg/types"
)

// BuildSuccessResponse creates a standardized success response
func BuildSuccessResponse(operation string, id string, paths map[string]string, data map[string]interface{}) string {
	return BuildResultResponse(operation, id, true, paths, data)
}

// BuildResultResponse creates a response for a call that completed without
// error. success is false when the call produced no result, such as an empty
// edit plan or a segmentation target that was not found.
func BuildResultResponse(operation string, id string, success bool, paths map[string]string, data map[string]interface{}) string {
	response := map[string]interface{}{
		"success":   success,
		"operation": operation,
		"id":        id,
	}
	if len(paths) > 0 {
		response["paths"] = paths
	}

	// Merge additional data if provided
	for k, v := range data {
		response[k] = v
	}

	jsonBytes, _ := json.MarshalIndent(response, "", "  ")
	return string(jsonBytes)
}

// BuildErrorResponse creates a standardized error response
func BuildErrorResponse(operation string, errorType string, message string, details map[string]interface{}) string {
	response := map[string]interface{}{
		"success":   false,
		"operation": operation,
		"error": map[string]interface{}{
			"type":       errorType,
			"message":    message,
			"details":    details,
			"suggestion": GetSuggestion(errorType),
		},
	}

	jsonBytes, _ := json.MarshalIndent(response, "", "  ")
	return string(jsonBytes)
}

// ErrorParts splits err into the response code, message and details.
func ErrorParts(err error) (string, string, map[string]interface{}) {
	kind := editerr.KindOf(err)
	details := map[string]interface{}{}
	var e *editerr.Error
	if errors.As(err, &e) {
		for k, v := range e.Details {
			details[k] = v
		}
		if e.StatusCode != 0 {
			details["status_code"] = e.StatusCode
		}
	}
	return kind.Code(), err.Error(), details
}

// GetSuggestion provides helpful suggestions for different error types
func GetSuggestion(errorType string) string {
	suggestions := map[string]string{
		"invalid_parameters":  "Check the parameter values and ensure they meet the requirements",
		"not_found":           "The target could not be located. Try a more specific or different description",
		"service_unavailable": "The model service is busy or rate limited. Wait a few seconds before retrying",
		"parse_error":         "The planning model returned malformed output. Retrying or rephrasing the instruction usually helps",
		"timeout":             "The model took longer than the configured limit. Retry, or raise REPLICATE_MAX_OPERATION_TIME",
		"unsupported":         "This operation is not available in planned edits. Try the direct strategy",
		"service_error":       "Check your API key and the instruction, then try again",
	}

	if suggestion, ok := suggestions[errorType]; ok {
		return suggestion
	}
	return "Please check your input and try again"
}

// Steps flattens a step trace for responses and sidecars.
func Steps(steps []dispatcher.StepRecord) []types.StepSummary {
	out := make([]types.StepSummary, 0, len(steps))
	for _, s := range steps {
		sum := types.StepSummary{
			Index:   s.Index,
			Kind:    string(s.Kind),
			Summary: s.Summary,
			Target:  s.Target,
			State:   s.State.String(),
			Report:  s.Report,
			Seconds: s.Duration.Seconds(),
		}
		if s.Region != nil {
			r := *s.Region
			sum.Region = []int{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
		}
		if s.Err != nil {
			sum.Error = s.Err.Error()
		}
		out = append(out, sum)
	}
	return out
}

// EditMetadata builds the sidecar for an orchestrated edit.
func EditMetadata(res *orchestrator.Result, instruction, filename string, editErr error) *types.EditMetadata {
	meta := &types.EditMetadata{
		Version:     "1.0",
		ID:          res.SessionID,
		Operation:   "edit_image",
		Instruction: instruction,
		Strategy:    string(res.Strategy),
		Handle:      string(res.Handle),
		Timestamp:   time.Now(),
		Success:     res.Success,
		Filename:    filename,
		Steps:       Steps(res.Steps),
	}
	if res.Image != nil {
		meta.Digest = res.Image.Digest()
	}
	if res.Plan != nil {
		meta.Reasoning = res.Plan.Reasoning
	}
	if editErr != nil {
		msg := editErr.Error()
		meta.Error = &msg
	}
	return meta
}

// EditData is the response payload for an orchestrated edit.
func EditData(res *orchestrator.Result) map[string]interface{} {
	data := map[string]interface{}{
		"strategy":  res.Strategy,
		"fell_back": res.FellBack,
		"message":   res.Message,
		"handle":    res.Handle,
		"steps":     Steps(res.Steps),
		"metrics": map[string]interface{}{
			"processing_time": res.Duration.Seconds(),
		},
	}
	if res.Image != nil {
		data["digest"] = res.Image.Digest()
		data["mime_type"] = res.Image.MIMEType
	}
	if res.Plan != nil {
		data["reasoning"] = res.Plan.Reasoning
		data["plan_confidence"] = res.Plan.Confidence
	}
	if res.DirectErr != nil {
		data["direct_error"] = res.DirectErr.Error()
	}
	if res.FailedIndex >= 0 {
		data["failed_index"] = res.FailedIndex
	}
	return data
}
