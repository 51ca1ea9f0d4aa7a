package flow

import (
	"time"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
)

// JobKindQuestionReminder re-sends a postponed question offer.
const JobKindQuestionReminder = "question_reminder"

// PendingQuestionToAnswer is a question offer postponed with "remind me later".
type PendingQuestionToAnswer struct {
	TaskID  string         `json:"task_id"`
	Message models.Message `json:"message"`
	UserID  string         `json:"user_id"`
	Sent    time.Time      `json:"sent"`
}

// QuestionReminderPayload is the JSON payload of question_reminder jobs.
type QuestionReminderPayload struct {
	UserID string `json:"user_id"`
	TaskID string `json:"task_id"`
}

func reminderDedupeKey(userID, taskID string) string {
	return JobKindQuestionReminder + ":" + userID + ":" + taskID
}

// pendingAnswers decodes the pending_answers map of convo.
func pendingAnswers(convo *conversation.Context) (map[string]PendingQuestionToAnswer, error) {
	pending := make(map[string]PendingQuestionToAnswer)
	if _, err := convo.Decode(conversation.KeyPendingAnswers, &pending); err != nil {
		return nil, err
	}
	if pending == nil {
		pending = make(map[string]PendingQuestionToAnswer)
	}
	return pending, nil
}

// storePendingAnswers writes pending back, dropping the key when it is empty.
func storePendingAnswers(convo *conversation.Context, pending map[string]PendingQuestionToAnswer) {
	if len(pending) == 0 {
		convo.Delete(conversation.KeyPendingAnswers)
		return
	}
	convo.Set(conversation.KeyPendingAnswers, pending)
}
