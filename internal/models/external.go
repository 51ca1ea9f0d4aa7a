package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMessageKind is returned for hub messages with an unrecognized type tag.
var ErrUnknownMessageKind = errors.New("unknown message kind")

// ExternalMessageType is the discriminant of a hub push.
type ExternalMessageType string

const (
	TypeTextualMessage   ExternalMessageType = "textualMessage"
	TypeQuestionToAnswer ExternalMessageType = "questionToAnswerMessage"
	TypeAnsweredQuestion ExternalMessageType = "answeredQuestionMessage"
	TypeAnsweredPicked   ExternalMessageType = "answeredPickedMessage"
	TypeIncentiveMessage ExternalMessageType = "incentiveMessage"
	TypeIncentiveBadge   ExternalMessageType = "incentiveBadge"
)

// ExternalMessage is a message pushed by the hub. Concrete values are one of the
// *Message types below; dispatch on Type.
type ExternalMessage interface {
	Type() ExternalMessageType
	Receiver() string
}

// Envelope carries the fields common to every hub message.
type Envelope struct {
	AppID      string `json:"appId"`
	ReceiverID string `json:"receiverId"`
}

// Receiver returns the hub user the message is addressed to.
func (e Envelope) Receiver() string { return e.ReceiverID }

type TextualMessage struct {
	Envelope
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (TextualMessage) Type() ExternalMessageType { return TypeTextualMessage }

type QuestionToAnswerMessage struct {
	Envelope
	TaskID   string `json:"taskId"`
	Question string `json:"question"`
	UserID   string `json:"userId"`
}

func (QuestionToAnswerMessage) Type() ExternalMessageType { return TypeQuestionToAnswer }

type AnsweredQuestionMessage struct {
	Envelope
	TaskID        string `json:"taskId"`
	Answer        string `json:"answer"`
	TransactionID string `json:"transactionId"`
	UserID        string `json:"userId"`
}

func (AnsweredQuestionMessage) Type() ExternalMessageType { return TypeAnsweredQuestion }

type AnsweredPickedMessage struct {
	Envelope
	TaskID        string `json:"taskId"`
	TransactionID string `json:"transactionId"`
}

func (AnsweredPickedMessage) Type() ExternalMessageType { return TypeAnsweredPicked }

type IncentiveMessage struct {
	Envelope
	IssuerID string `json:"issuer"`
	Content  string `json:"content"`
}

func (IncentiveMessage) Type() ExternalMessageType { return TypeIncentiveMessage }

type IncentiveBadge struct {
	Envelope
	IssuerID string `json:"issuer"`
	BadgeID  string `json:"badgeId"`
	Message  string `json:"message"`
	ImageURL string `json:"imageUrl"`
}

func (IncentiveBadge) Type() ExternalMessageType { return TypeIncentiveBadge }

// rawExternalMessage is the wire shape of a hub push.
type rawExternalMessage struct {
	Type       ExternalMessageType `json:"type"`
	AppID      string              `json:"appId"`
	ReceiverID string              `json:"receiverId"`
	Attributes json.RawMessage     `json:"attributes"`
}

// ParseExternalMessage decodes a hub push into its concrete variant.
func ParseExternalMessage(data []byte) (ExternalMessage, error) {
	var raw rawExternalMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode external message: %w", err)
	}
	env := Envelope{AppID: raw.AppID, ReceiverID: raw.ReceiverID}
	attrs := raw.Attributes
	if len(attrs) == 0 {
		attrs = json.RawMessage("{}")
	}

	var msg ExternalMessage
	var err error
	switch raw.Type {
	case TypeTextualMessage:
		m := TextualMessage{Envelope: env}
		err = json.Unmarshal(attrs, &m)
		msg = m
	case TypeQuestionToAnswer:
		m := QuestionToAnswerMessage{Envelope: env}
		err = json.Unmarshal(attrs, &m)
		msg = m
	case TypeAnsweredQuestion:
		m := AnsweredQuestionMessage{Envelope: env}
		err = json.Unmarshal(attrs, &m)
		msg = m
	case TypeAnsweredPicked:
		m := AnsweredPickedMessage{Envelope: env}
		err = json.Unmarshal(attrs, &m)
		msg = m
	case TypeIncentiveMessage:
		m := IncentiveMessage{Envelope: env}
		err = json.Unmarshal(attrs, &m)
		msg = m
	case TypeIncentiveBadge:
		m := IncentiveBadge{Envelope: env}
		err = json.Unmarshal(attrs, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageKind, raw.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s attributes: %w", raw.Type, err)
	}
	if env.ReceiverID == "" {
		return nil, fmt.Errorf("external message %s has no receiverId", raw.Type)
	}
	return msg, nil
}
