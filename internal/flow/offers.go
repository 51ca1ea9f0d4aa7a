package flow

import (
	"context"
	"fmt"

	"github.com/BTreeMap/AskForHelp/internal/cache"
	"github.com/BTreeMap/AskForHelp/internal/models"
)

// button is one entry of a mutually exclusive button group.
type button struct {
	labelKey string
	intent   string
}

// buttonGroup caches one payload per button, all sharing data plus the keys
// of the whole group, and returns the rendered options in order.
func (b *Bot) buttonGroup(ctx context.Context, locale string, data map[string]any, buttons []button) ([]models.Option, error) {
	keys := cache.NewGroup(len(buttons))
	shared := make(map[string]any, len(data)+1)
	for k, v := range data {
		shared[k] = v
	}
	shared[models.PayloadRelatedButtons] = models.GroupKeys(keys)

	options := make([]models.Option, len(buttons))
	for i, btn := range buttons {
		if err := b.payloads.CacheButton(ctx, keys[i], models.NewButtonPayload(shared, btn.intent)); err != nil {
			return nil, fmt.Errorf("cache %s button: %w", btn.intent, err)
		}
		options[i] = models.Option{Label: b.text(locale, btn.labelKey), Intent: models.ButtonIntent(keys[i])}
	}
	return options, nil
}

// questionOffer describes a question proposed to a potential answerer.
type questionOffer struct {
	TaskID    string
	Question  string
	Username  string
	Sensitive bool
	Nearby    bool
}

// renderQuestionOffer renders the offer and registers its buttons. Nearby
// offers cannot be postponed.
func (b *Bot) renderQuestionOffer(ctx context.Context, locale string, o questionOffer) (models.Message, error) {
	var key string
	var buttons []button
	if o.Nearby {
		key = "answer_message_nearby"
		if o.Sensitive {
			key = "answer_sensitive_message_nearby"
		}
		buttons = []button{
			{"answer_question_button", IntentAnswerQuestion},
			{"answer_not_button", IntentAnswerNot},
			{"answer_report_button", IntentQuestionReport},
		}
	} else {
		key = "answer_message_0"
		if o.Sensitive {
			key = "answer_sensitive_message_0"
		}
		buttons = []button{
			{"answer_question_button", IntentAnswerQuestion},
			{"answer_remind_later_button", IntentAnswerRemindLater},
			{"answer_not_button", IntentAnswerNot},
			{"answer_report_button", IntentQuestionReport},
		}
	}

	data := map[string]any{
		models.PayloadTaskID:    o.TaskID,
		models.PayloadQuestion:  o.Question,
		models.PayloadSensitive: o.Sensitive,
		models.PayloadUsername:  o.Username,
	}
	options, err := b.buttonGroup(ctx, locale, data, buttons)
	if err != nil {
		return models.Message{}, err
	}
	text := b.text(locale, key, "question", EscapeMarkdown(o.Question), "user", o.Username)
	return models.TextMessage(text, options...), nil
}

// renderAnsweredQuestion renders an answer delivered to the asker.
func (b *Bot) renderAnsweredQuestion(ctx context.Context, locale string, task models.Task, transactionID, answer, username string) (models.Message, error) {
	data := map[string]any{
		models.PayloadTaskID:        task.ID,
		models.PayloadTransactionID: transactionID,
	}
	options, err := b.buttonGroup(ctx, locale, data, []button{
		{"best_answers_button", IntentBestAnswer},
		{"more_answers_button", IntentAskMoreAnswers},
		{"answer_report_button", IntentAnswerReport},
	})
	if err != nil {
		return models.Message{}, err
	}
	text := b.text(locale, "new_answer_message",
		"question", EscapeMarkdown(task.Goal.Name),
		"answer", EscapeMarkdown(answer),
		"username", username,
	)
	return models.TextMessage(text, options...), nil
}
