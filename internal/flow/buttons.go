package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/BTreeMap/AskForHelp/internal/router"
	"github.com/BTreeMap/AskForHelp/internal/store"
)

// handleButton resolves a clicked button through the payload cache and
// dispatches on the payload intent. The whole button group is consumed.
func (b *Bot) handleButton(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	key := models.ButtonKey(ev.Intent)
	payload, ok, err := b.payloads.ConsumeButton(ctx, key)
	if err != nil {
		return router.Reply{}, err
	}
	if !ok {
		slog.Info("Bot button expired", "userID", ev.UserID, "key", key)
		return reply(convo, models.TextMessage(b.text(b.locale(ctx, convo), "expired_button_message"))), nil
	}
	slog.Debug("Bot button claimed", "userID", ev.UserID, "intent", payload.Intent, "taskID", payload.TaskID())

	switch payload.Intent {
	case IntentAskMoreAnswers:
		return b.actionMoreAnswers(ctx, ev, convo, payload)
	case IntentQuestionReport, IntentAnswerReport:
		return b.actionReportMessage(ctx, convo, payload)
	case IntentReportAbusive, IntentReportSpam:
		return b.actionReportReason(ctx, ev, convo, payload)
	case IntentBestAnswer:
		return b.actionBestAnswer(ctx, ev, convo, payload)
	case IntentAnswerNot:
		return b.actionNotAnswer(ctx, ev, convo, payload)
	case IntentAnswerQuestion:
		return b.actionAnswerQuestion(ctx, convo, payload)
	case IntentAnswerRemindLater:
		return b.actionRemindLater(ctx, ev, convo, payload)
	case IntentAnswerPickedQuestion:
		return b.actionAnswerPickedQuestion(ctx, ev, convo, payload)
	default:
		return router.Reply{}, fmt.Errorf("no action associated with button intent %q", payload.Intent)
	}
}

// transact posts a transaction on behalf of the user and renders okKey on success.
func (b *Bot) transact(ctx context.Context, ev models.Event, convo *conversation.Context, tr models.TaskTransaction, okKey string) router.Reply {
	locale := b.locale(ctx, convo)
	tr.ActioneerID = convo.StringOr(conversation.KeyWenetUserID, "")
	if tr.Attributes == nil {
		tr.Attributes = map[string]any{}
	}
	if err := b.tasks.CreateTaskTransaction(ctx, tr); err != nil {
		slog.Error("Bot transaction failed", "label", tr.Label, "taskID", tr.TaskID, "error", err)
		return reply(convo, b.serviceFailure(locale, ev.UserID, err))
	}
	return reply(convo, models.TextMessage(b.text(locale, okKey)))
}

func (b *Bot) actionNotAnswer(ctx context.Context, ev models.Event, convo *conversation.Context, payload models.ButtonPayload) (router.Reply, error) {
	tr := models.TaskTransaction{TaskID: payload.TaskID(), Label: models.LabelNotAnswerTransaction}
	return b.transact(ctx, ev, convo, tr, "not_answer_response"), nil
}

func (b *Bot) actionMoreAnswers(ctx context.Context, ev models.Event, convo *conversation.Context, payload models.ButtonPayload) (router.Reply, error) {
	tr := models.TaskTransaction{TaskID: payload.TaskID(), Label: models.LabelMoreAnswerTransaction}
	return b.transact(ctx, ev, convo, tr, "ask_more_answers_text"), nil
}

func (b *Bot) actionBestAnswer(ctx context.Context, ev models.Event, convo *conversation.Context, payload models.ButtonPayload) (router.Reply, error) {
	transactionID, ok := payload.TransactionID()
	if !ok {
		return router.Reply{}, fmt.Errorf("best answer button for task %s has no transaction", payload.TaskID())
	}
	tr := models.TaskTransaction{
		TaskID:     payload.TaskID(),
		Label:      models.LabelBestAnswerTransaction,
		Attributes: map[string]any{"transactionId": transactionID},
	}
	return b.transact(ctx, ev, convo, tr, "best_answer_final_message"), nil
}

// actionReportMessage asks why a question or an answer is reported. The
// reason buttons carry the reported message's payload.
func (b *Bot) actionReportMessage(ctx context.Context, convo *conversation.Context, payload models.ButtonPayload) (router.Reply, error) {
	locale := b.locale(ctx, convo)
	data := make(map[string]any, len(payload.Payload))
	for k, v := range payload.Payload {
		if k != models.PayloadRelatedButtons {
			data[k] = v
		}
	}
	options, err := b.buttonGroup(ctx, locale, data, []button{
		{"button_why_reporting_1_text", IntentReportAbusive},
		{"button_why_reporting_2_text", IntentReportSpam},
	})
	if err != nil {
		return router.Reply{}, err
	}
	options = append(options, b.option(locale, "button_why_reporting_3_text", IntentCancel))
	return reply(convo, models.TextMessage(b.text(locale, "why_reporting_message"), options...)), nil
}

// actionReportReason posts the report. Answers are reported together with
// their transaction.
func (b *Bot) actionReportReason(ctx context.Context, ev models.Event, convo *conversation.Context, payload models.ButtonPayload) (router.Reply, error) {
	tr := models.TaskTransaction{
		TaskID:     payload.TaskID(),
		Label:      models.LabelReportQuestionTransaction,
		Attributes: map[string]any{"reason": payload.Intent},
	}
	if transactionID, ok := payload.TransactionID(); ok {
		tr.Label = models.LabelReportAnswerTransaction
		tr.Attributes["transactionId"] = transactionID
	}
	return b.transact(ctx, ev, convo, tr, "report_final_message"), nil
}

// actionRemindLater postpones a question offer: a fresh offer is rendered and
// kept in pending_answers, and a reminder job is enqueued to deliver it.
func (b *Bot) actionRemindLater(ctx context.Context, ev models.Event, convo *conversation.Context, payload models.ButtonPayload) (router.Reply, error) {
	locale := b.locale(ctx, convo)
	taskID := payload.TaskID()
	offer, err := b.renderQuestionOffer(ctx, locale, questionOffer{
		TaskID:    taskID,
		Question:  payload.String(models.PayloadQuestion),
		Username:  payload.String(models.PayloadUsername),
		Sensitive: payload.Sensitive(),
	})
	if err != nil {
		return router.Reply{}, err
	}

	pending, err := pendingAnswers(convo)
	if err != nil {
		return router.Reply{}, err
	}
	pending[taskID] = PendingQuestionToAnswer{TaskID: taskID, Message: offer, UserID: ev.UserID, Sent: b.now().UTC()}
	storePendingAnswers(convo, pending)

	if b.cfg.Jobs != nil {
		body, err := store.EncodePayload(QuestionReminderPayload{UserID: ev.UserID, TaskID: taskID})
		if err != nil {
			return router.Reply{}, err
		}
		runAt := b.now().Add(b.cfg.ReminderDelay)
		jobID, err := b.cfg.Jobs.EnqueueJob(ctx, JobKindQuestionReminder, runAt, body, reminderDedupeKey(ev.UserID, taskID))
		if err != nil {
			return router.Reply{}, fmt.Errorf("enqueue reminder for task %s: %w", taskID, err)
		}
		slog.Info("Bot remind later scheduled", "userID", ev.UserID, "taskID", taskID, "jobID", jobID, "runAt", runAt)
	} else {
		slog.Warn("Bot remind later: no job scheduler configured, reminder kept in context only", "userID", ev.UserID, "taskID", taskID)
	}
	return reply(convo, models.TextMessage(b.text(locale, "answer_remind_later_message"))), nil
}
