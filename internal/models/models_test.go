package models

import (
	"errors"
	"reflect"
	"regexp"
	"testing"
)

func TestNewTextEventCommands(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantKind   EventKind
		wantIntent string
	}{
		{"plain text", "where is the library?", EventKindText, ""},
		{"command", "/question", EventKindAction, "/question"},
		{"command with args and case", "  /Answer now ", EventKindAction, "/answer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewTextEvent("m1", "u1", tt.text)
			if ev.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", ev.Kind, tt.wantKind)
			}
			if ev.Intent != tt.wantIntent {
				t.Errorf("intent = %q, want %q", ev.Intent, tt.wantIntent)
			}
			if ev.Text != tt.text {
				t.Errorf("text = %q, want %q", ev.Text, tt.text)
			}
		})
	}
}

func TestButtonPayloadRoundTrip(t *testing.T) {
	original := NewButtonPayload(map[string]any{
		PayloadTaskID:         "task-1",
		PayloadQuestion:       "Any good pizza around?",
		PayloadSensitive:      true,
		PayloadRelatedButtons: GroupKeys([]string{"a", "b", "c"}),
	}, "answer_question")

	data, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := ParseButtonPayload(data)
	if err != nil {
		t.Fatalf("ParseButtonPayload failed: %v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", decoded, original)
	}
	keys, ok := decoded.RelatedButtons()
	if !ok || !reflect.DeepEqual(keys, []string{"a", "b", "c"}) {
		t.Errorf("RelatedButtons = %v, %v", keys, ok)
	}
	if decoded.TaskID() != "task-1" || !decoded.Sensitive() {
		t.Errorf("accessors returned task=%q sensitive=%v", decoded.TaskID(), decoded.Sensitive())
	}
}

func TestButtonPayloadWithoutGroup(t *testing.T) {
	b := NewButtonPayload(map[string]any{PayloadTaskID: "t"}, "picked_answer")
	if _, ok := b.RelatedButtons(); ok {
		t.Error("expected no related buttons")
	}
	if _, ok := b.TransactionID(); ok {
		t.Error("expected no transaction id")
	}
}

func TestButtonIntentEncoding(t *testing.T) {
	re := regexp.MustCompile(ButtonIntentPattern)
	key := "0b5c5e3a-6a7b-4c84-9d8e-1f2a3b4c5d6e"
	intent := ButtonIntent(key)
	if !re.MatchString(intent) {
		t.Errorf("%q does not match %s", intent, ButtonIntentPattern)
	}
	if got := ButtonKey(intent); got != key {
		t.Errorf("ButtonKey = %q, want %q", got, key)
	}
	if re.MatchString("button--") || re.MatchString("button--a b") || re.MatchString("/question") {
		t.Error("pattern matched a malformed intent")
	}
}

func TestParseExternalMessage(t *testing.T) {
	tests := []struct {
		name string
		data string
		want ExternalMessage
	}{
		{
			name: "textual",
			data: `{"type":"textualMessage","appId":"app","receiverId":"42","attributes":{"title":"Hi","text":"there"}}`,
			want: TextualMessage{Envelope: Envelope{AppID: "app", ReceiverID: "42"}, Title: "Hi", Text: "there"},
		},
		{
			name: "question to answer",
			data: `{"type":"questionToAnswerMessage","receiverId":"42","attributes":{"taskId":"t1","question":"Why?","userId":"7"}}`,
			want: QuestionToAnswerMessage{Envelope: Envelope{ReceiverID: "42"}, TaskID: "t1", Question: "Why?", UserID: "7"},
		},
		{
			name: "answered question",
			data: `{"type":"answeredQuestionMessage","receiverId":"42","attributes":{"taskId":"t1","answer":"Because","transactionId":"tr1","userId":"8"}}`,
			want: AnsweredQuestionMessage{Envelope: Envelope{ReceiverID: "42"}, TaskID: "t1", Answer: "Because", TransactionID: "tr1", UserID: "8"},
		},
		{
			name: "answered picked",
			data: `{"type":"answeredPickedMessage","receiverId":"42","attributes":{"taskId":"t1","transactionId":"tr1"}}`,
			want: AnsweredPickedMessage{Envelope: Envelope{ReceiverID: "42"}, TaskID: "t1", TransactionID: "tr1"},
		},
		{
			name: "incentive badge",
			data: `{"type":"incentiveBadge","receiverId":"42","attributes":{"message":"Well done","imageUrl":"http://img"}}`,
			want: IncentiveBadge{Envelope: Envelope{ReceiverID: "42"}, Message: "Well done", ImageURL: "http://img"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExternalMessage([]byte(tt.data))
			if err != nil {
				t.Fatalf("ParseExternalMessage failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
			if got.Type() != tt.want.Type() {
				t.Errorf("type = %q, want %q", got.Type(), tt.want.Type())
			}
		})
	}
}

func TestParseExternalMessageUnknownKind(t *testing.T) {
	_, err := ParseExternalMessage([]byte(`{"type":"pollMessage","receiverId":"42"}`))
	if !errors.Is(err, ErrUnknownMessageKind) {
		t.Fatalf("expected ErrUnknownMessageKind, got %v", err)
	}
}

func TestParseExternalMessageMissingReceiver(t *testing.T) {
	if _, err := ParseExternalMessage([]byte(`{"type":"textualMessage","attributes":{"text":"x"}}`)); err == nil {
		t.Fatal("expected error for message without receiver")
	}
}

func TestTaskHelpers(t *testing.T) {
	task := Task{
		Attributes: map[string]any{AttrSensitive: true, AttrPositionOfAnswerer: PositionNearby},
		Transactions: []TaskTransaction{
			{ID: "tr1", Label: LabelAnswerTransaction, ActioneerID: "u1"},
			{ID: "tr2", Label: LabelNotAnswerTransaction, ActioneerID: "u2"},
		},
	}
	if !task.BoolAttribute(AttrSensitive) || task.BoolAttribute(AttrAnonymous) {
		t.Error("BoolAttribute returned unexpected values")
	}
	if task.StringAttribute(AttrPositionOfAnswerer) != PositionNearby {
		t.Error("StringAttribute returned unexpected value")
	}
	if !task.AnsweredBy("u1") || task.AnsweredBy("u2") {
		t.Error("AnsweredBy only counts answer transactions")
	}
	if _, ok := task.Transaction("tr2"); !ok {
		t.Error("Transaction lookup failed")
	}
}

func TestDisplayName(t *testing.T) {
	p := UserProfile{Name: UserName{First: "Ada"}}
	if p.DisplayName(false) != "Ada" {
		t.Error("expected first name")
	}
	if p.DisplayName(true) != AnonymousName {
		t.Error("expected anonymous when hidden")
	}
	if (UserProfile{}).DisplayName(false) != AnonymousName {
		t.Error("expected anonymous when name missing")
	}
}
