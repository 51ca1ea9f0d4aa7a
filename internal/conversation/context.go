// Package conversation holds the per-user conversation context that drives the
// question and answer flows, and the storage contracts for persisting it.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMissingContextKey is returned when a flow step finds a required key absent.
var ErrMissingContextKey = errors.New("missing context key")

// Context keys.
const (
	KeyCurrentState              = "current_state"
	KeyWenetUserID               = "wenet_user_id"
	KeyAskedQuestion             = "asked_question"
	KeyDesiredAnswerer           = "desired_answerer"
	KeyDesiredAnswererReason     = "desired_answerer_reason"
	KeySensitiveQuestion         = "sensitive_question"
	KeyAnonymousQuestion         = "anonymous_question"
	KeyQuestionToAnswer          = "question_to_answer"
	KeyAnswerToQuestion          = "answer_to_question"
	KeyMessageToReport           = "message_to_report"
	KeyReportingIsQuestion       = "reporting_is_question"
	KeyReportingReason           = "reporting_reason"
	KeyOriginalQuestionReporting = "original_question_reporting"
	KeyProposedTasks             = "proposed_tasks"
	KeyPendingAnswers            = "pending_answers"
	KeyOfferedOptions            = "offered_options"
)

// flowKeys are dropped whenever a flow is cancelled or preempted.
var flowKeys = []string{
	KeyCurrentState, KeyAskedQuestion, KeyDesiredAnswerer, KeyDesiredAnswererReason,
	KeySensitiveQuestion, KeyAnonymousQuestion, KeyQuestionToAnswer, KeyAnswerToQuestion,
	KeyMessageToReport, KeyReportingIsQuestion, KeyReportingReason,
	KeyOriginalQuestionReporting, KeyProposedTasks, KeyOfferedOptions,
}

// Context is a mutable bag of JSON values owned by one chat user.
// It is not safe for concurrent use; callers serialize turns per user.
type Context struct {
	values map[string]any
}

// New returns an empty (idle) context.
func New() *Context {
	return &Context{values: make(map[string]any)}
}

// Has reports whether key is present.
func (c *Context) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Get returns the raw value stored under key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// String returns the string stored under key.
func (c *Context) String(key string) (string, bool) {
	s, ok := c.values[key].(string)
	return s, ok
}

// StringOr returns the string stored under key, or def.
func (c *Context) StringOr(key, def string) string {
	if s, ok := c.String(key); ok {
		return s
	}
	return def
}

// RequireString returns the string under key or an error wrapping ErrMissingContextKey.
func (c *Context) RequireString(key string) (string, error) {
	s, ok := c.String(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingContextKey, key)
	}
	return s, nil
}

// Set stores value under key.
func (c *Context) Set(key string, value any) {
	c.values[key] = value
}

// Delete removes keys. Missing keys are ignored.
func (c *Context) Delete(keys ...string) {
	for _, k := range keys {
		delete(c.values, k)
	}
}

// Keys returns the stored keys in sorted order.
func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (c *Context) Len() int {
	return len(c.values)
}

// Decode re-decodes the value under key into dst. It reports false when the key is absent.
func (c *Context) Decode(key string, dst any) (bool, error) {
	v, ok := c.values[key]
	if !ok {
		return false, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return true, fmt.Errorf("failed to encode context key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, fmt.Errorf("failed to decode context key %s: %w", key, err)
	}
	return true, nil
}

// Clone returns a deep copy made through the JSON representation.
func (c *Context) Clone() *Context {
	data, err := json.Marshal(c.values)
	if err != nil {
		cp := New()
		for k, v := range c.values {
			cp.values[k] = v
		}
		return cp
	}
	cp := New()
	_ = json.Unmarshal(data, &cp.values)
	return cp
}

// State returns the current flow state; StateIdle when no flow is active.
func (c *Context) State() State {
	s, _ := c.String(KeyCurrentState)
	return State(s)
}

// SetState moves the context to state.
func (c *Context) SetState(state State) {
	c.values[KeyCurrentState] = string(state)
}

// InActiveFlow reports whether the user is in the middle of a question or answer flow.
func (c *Context) InActiveFlow() bool {
	return c.State().Active()
}

// ClearFlow drops every flow key. Account linkage and pending reminders survive.
func (c *Context) ClearFlow() {
	c.Delete(flowKeys...)
}

// MarshalJSON implements json.Marshaler.
func (c *Context) MarshalJSON() ([]byte, error) {
	if c.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.values)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Context) UnmarshalJSON(data []byte) error {
	values := make(map[string]any)
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	if values == nil {
		values = make(map[string]any)
	}
	c.values = values
	return nil
}
