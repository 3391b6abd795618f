// internal/types/models.go
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StepStatusSuccess marks an execution step whose results are usable.
const StepStatusSuccess = "success"

// ExecutionResult is the payload returned by the workflow backend's
// plan_and_execute_workflow tool. Fields the bridge does not interpret are
// kept in Extra so the result can be echoed back unchanged.
type ExecutionResult struct {
	Success   bool
	Plan      json.RawMessage
	Execution []ExecutionStep
	Error     string
	ErrorType string
	Extra     map[string]json.RawMessage

	// noSuccess is set when a decoded payload had no success member.
	noSuccess bool
}

// ExecutionStep is one stage of a multi-step workflow run.
type ExecutionStep struct {
	Status string
	Result []ResultItem
	Extra  map[string]json.RawMessage
}

// FailedResult synthesizes the result recorded when the backend could not be
// reached or answered with something unusable.
func FailedResult(err error) *ExecutionResult {
	return &ExecutionResult{
		Success:   false,
		Error:     err.Error(),
		ErrorType: ErrorKind(err),
	}
}

// HasPlan reports whether the backend produced a non-empty plan.
func (r *ExecutionResult) HasPlan() bool {
	return Truthy(r.Plan)
}

func (r *ExecutionResult) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode execution result: %w", err)
	}
	*r = ExecutionResult{}

	// Only members that decode into their typed field leave fields; the rest
	// stay in Extra and are written back verbatim.
	if raw, ok := fields["success"]; ok {
		r.Success = Truthy(raw)
		if isBool(raw) {
			delete(fields, "success")
		}
	} else {
		r.noSuccess = true
	}
	if raw, ok := fields["plan"]; ok && !isNull(raw) {
		r.Plan = raw
		delete(fields, "plan")
	}
	if raw, ok := fields["execution"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &r.Execution); err != nil {
			return fmt.Errorf("decode execution steps: %w", err)
		}
		delete(fields, "execution")
	}
	for key, dst := range map[string]*string{"error": &r.Error, "error_type": &r.ErrorType} {
		if s, ok := stringValue(fields[key]); ok && s != "" {
			*dst = s
			delete(fields, key)
		}
	}
	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

// MarshalJSON writes the typed fields over Extra. success is written unless
// Extra holds the backend's own non-boolean value or the payload had none.
func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+5)
	for k, v := range r.Extra {
		out[k] = v
	}
	if _, ok := r.Extra["success"]; !ok && (r.Success || !r.noSuccess) {
		out["success"] = r.Success
	}
	if len(r.Plan) > 0 {
		out["plan"] = r.Plan
	}
	if r.Execution != nil {
		out["execution"] = r.Execution
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.ErrorType != "" {
		out["error_type"] = r.ErrorType
	}
	return json.Marshal(out)
}

func (s *ExecutionStep) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode execution step: %w", err)
	}
	*s = ExecutionStep{}

	if status, ok := stringValue(fields["status"]); ok && status != "" {
		s.Status = status
		delete(fields, "status")
	}

	// A non-array result carries no items; it stays in Extra untouched.
	if raw, ok := fields["result"]; ok && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		if err := json.Unmarshal(raw, &s.Result); err != nil {
			return fmt.Errorf("decode step result: %w", err)
		}
		delete(fields, "result")
	}
	if len(fields) > 0 {
		s.Extra = fields
	}
	return nil
}

func (s ExecutionStep) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+2)
	for k, v := range s.Extra {
		out[k] = v
	}
	if s.Status != "" {
		out["status"] = s.Status
	}
	if s.Result != nil {
		out["result"] = s.Result
	}
	return json.Marshal(out)
}

func stringValue(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isBool(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return bytes.Equal(t, []byte("true")) || bytes.Equal(t, []byte("false"))
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Truthy applies loose JSON truthiness: null, false, 0, "", [] and {} are false.
func Truthy(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return false
}
