// Package models defines the shared data types of AskForHelp: inbound chat events,
// outbound messages, hub entities and API response envelopes.
package models

import (
	"strings"
	"time"
)

// EventKind distinguishes free-text input from button clicks and commands.
type EventKind string

const (
	// EventKindText is a free-text message typed by the user.
	EventKindText EventKind = "text"
	// EventKindAction is a button click or a command without free text.
	EventKindAction EventKind = "action"
)

// Event is one inbound user turn as seen by the router.
type Event struct {
	ID     string    `json:"id"`
	UserID string    `json:"user_id"`
	Kind   EventKind `json:"kind"`
	Intent string    `json:"intent"`
	Text   string    `json:"text,omitempty"`
	Time   time.Time `json:"time"`
}

// IsText reports whether the event carries free text.
func (e Event) IsText() bool {
	return e.Kind == EventKindText
}

// NewTextEvent builds a text event. Replies starting with a slash are turned
// into commands, with the first token lowercased as the intent.
func NewTextEvent(id, userID, text string) Event {
	ev := Event{ID: id, UserID: userID, Kind: EventKindText, Text: text, Time: time.Now()}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/") {
		fields := strings.Fields(trimmed)
		ev.Kind = EventKindAction
		ev.Intent = strings.ToLower(fields[0])
	}
	return ev
}

// NewActionEvent builds an action event carrying only an intent.
func NewActionEvent(id, userID, intent string) Event {
	return Event{ID: id, UserID: userID, Kind: EventKindAction, Intent: intent, Time: time.Now()}
}

// MessageKind identifies how an outbound message is rendered.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
)

// Option is a quick-reply choice attached to an outbound message.
type Option struct {
	Label  string `json:"label"`
	Intent string `json:"intent"`
}

// Message is one outbound chat message.
type Message struct {
	Kind     MessageKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	ImageURL string      `json:"image_url,omitempty"`
	Options  []Option    `json:"options,omitempty"`
}

// TextMessage builds a text message with optional quick replies.
func TextMessage(text string, options ...Option) Message {
	return Message{Kind: MessageKindText, Text: text, Options: options}
}

// ImageMessage builds an image message.
func ImageMessage(url string) Message {
	return Message{Kind: MessageKindImage, ImageURL: url}
}

// HasOptions reports whether the message offers quick replies.
func (m Message) HasOptions() bool {
	return len(m.Options) > 0
}

// MessageStatus is the delivery state of an outbound chat message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Receipt reports a delivery state change for a chat user.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response is an inbound chat message as delivered by a transport. ID is the
// transport's message identifier, used for deduplication.
type Response struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusRecorded indicates the pushed data was accepted for delivery.
	APIStatusRecorded APIStatus = "recorded"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Recorded creates a recorded API response.
func Recorded() APIResponse {
	return APIResponse{Status: string(APIStatusRecorded)}
}
