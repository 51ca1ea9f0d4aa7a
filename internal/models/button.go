package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ButtonIntentPrefix marks an intent whose suffix is a payload cache key.
const ButtonIntentPrefix = "button--"

// ButtonIntentPattern matches every intent produced by ButtonIntent.
const ButtonIntentPattern = `^button--[A-Za-z0-9-]+$`

// Payload keys shared by every button group.
const (
	PayloadTaskID         = "task_id"
	PayloadTransactionID  = "transaction_id"
	PayloadRelatedButtons = "related_buttons"
	PayloadQuestion       = "question"
	PayloadSensitive      = "sensitive"
	PayloadUsername       = "username"
)

// ButtonIntent encodes a cache key as a button intent.
func ButtonIntent(key string) string {
	return ButtonIntentPrefix + key
}

// ButtonKey extracts the cache key from a button intent by splitting on the last "--".
func ButtonKey(intent string) string {
	idx := strings.LastIndex(intent, "--")
	if idx < 0 {
		return intent
	}
	return intent[idx+2:]
}

// ButtonPayload is the value stored behind a button's correlation key.
type ButtonPayload struct {
	Payload map[string]any `json:"payload"`
	Intent  string         `json:"intent"`
}

// NewButtonPayload copies payload so sibling buttons can share one map literal.
func NewButtonPayload(payload map[string]any, intent string) ButtonPayload {
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	return ButtonPayload{Payload: cp, Intent: intent}
}

// Encode renders the payload in its cache representation.
func (b ButtonPayload) Encode() ([]byte, error) {
	if b.Payload == nil {
		b.Payload = map[string]any{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode button payload: %w", err)
	}
	return data, nil
}

// ParseButtonPayload decodes the cache representation of a button payload.
func ParseButtonPayload(data []byte) (ButtonPayload, error) {
	var b ButtonPayload
	if err := json.Unmarshal(data, &b); err != nil {
		return ButtonPayload{}, fmt.Errorf("failed to decode button payload: %w", err)
	}
	if b.Payload == nil {
		b.Payload = map[string]any{}
	}
	return b, nil
}

// String returns the string value stored under key, or "".
func (b ButtonPayload) String(key string) string {
	s, _ := b.Payload[key].(string)
	return s
}

// Bool returns the boolean value stored under key, or false.
func (b ButtonPayload) Bool(key string) bool {
	v, _ := b.Payload[key].(bool)
	return v
}

// TaskID returns the task the button refers to.
func (b ButtonPayload) TaskID() string {
	return b.String(PayloadTaskID)
}

// TransactionID returns the transaction the button refers to, if any.
func (b ButtonPayload) TransactionID() (string, bool) {
	id, ok := b.Payload[PayloadTransactionID].(string)
	return id, ok && id != ""
}

// Sensitive reports whether the referred question is sensitive.
func (b ButtonPayload) Sensitive() bool {
	return b.Bool(PayloadSensitive)
}

// RelatedButtons returns the keys of the button group, including the button's own key.
func (b ButtonPayload) RelatedButtons() ([]string, bool) {
	raw, ok := b.Payload[PayloadRelatedButtons]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys, true
	default:
		return nil, false
	}
}

// GroupKeys converts a list of keys into the form stored under related_buttons.
func GroupKeys(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
