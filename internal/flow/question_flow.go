package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/BTreeMap/AskForHelp/internal/router"
	"github.com/BTreeMap/AskForHelp/internal/taskservice"
)

// actionQuestion starts the question flow. /question_first also shows the
// conduct preamble.
func (b *Bot) actionQuestion(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	locale := b.locale(ctx, convo)
	convo.SetState(conversation.StateQuestion1)
	var msgs []models.Message
	if ev.Intent == IntentQuestionFirst {
		msgs = append(msgs, models.TextMessage(b.text(locale, "question_0")))
	}
	msgs = append(msgs, models.TextMessage(b.text(locale, "question_1")))
	return reply(convo, msgs...), nil
}

// actionQuestion2 stores the question and asks who should answer it.
func (b *Bot) actionQuestion2(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	locale := b.locale(ctx, convo)
	if !ev.IsText() {
		return reply(convo, models.TextMessage(b.text(locale, "question_is_not_text"))), nil
	}
	convo.Set(conversation.KeyAskedQuestion, ev.Text)
	convo.SetState(conversation.StateQuestion2)
	msg := models.TextMessage(b.text(locale, "question_2"),
		b.option(locale, "type_answer_1", IntentAskToDifferent),
		b.option(locale, "type_answer_2", IntentAskToSimilar),
		b.option(locale, "type_answer_3", IntentAskToAnyone),
	)
	return reply(convo, msg), nil
}

// actionQuestion3 stores the kind of answerer and asks for details about them.
func (b *Bot) actionQuestion3(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	convo.Set(conversation.KeyDesiredAnswerer, ev.Intent)
	convo.SetState(conversation.StateQuestion3)
	return reply(convo, models.TextMessage(b.text(b.locale(ctx, convo), "specify_answerer"))), nil
}

// actionQuestion4 stores the answerer details and asks whether the question is sensitive.
func (b *Bot) actionQuestion4(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	locale := b.locale(ctx, convo)
	if !ev.IsText() {
		return reply(convo, models.TextMessage(b.text(locale, "answerer_details_are_not_text"))), nil
	}
	convo.Set(conversation.KeyDesiredAnswererReason, ev.Text)
	convo.SetState(conversation.StateQuestion4)
	msg := models.TextMessage(b.text(locale, "sensitive_question"),
		b.option(locale, "not_sensitive", IntentNotSensitive),
		b.option(locale, "sensitive", IntentSensitive),
	)
	return reply(convo, msg), nil
}

// actionQuestion41 records a sensitive question and asks whether to stay anonymous.
func (b *Bot) actionQuestion41(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	locale := b.locale(ctx, convo)
	convo.Set(conversation.KeySensitiveQuestion, ev.Intent)
	convo.SetState(conversation.StateQuestion41)
	msg := models.TextMessage(b.text(locale, "anonymous_question"),
		b.option(locale, "anonymous", IntentAnonymous),
		b.option(locale, "not_anonymous", IntentNotAnonymous),
	)
	return reply(convo, msg), nil
}

// actionQuestion5 records the sensitivity or anonymity choice and asks where
// the answerers should be.
func (b *Bot) actionQuestion5(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	locale := b.locale(ctx, convo)
	if ev.Intent == IntentAnonymous || ev.Intent == IntentNotAnonymous {
		convo.Set(conversation.KeyAnonymousQuestion, ev.Intent)
	} else {
		convo.Set(conversation.KeySensitiveQuestion, ev.Intent)
	}
	convo.SetState(conversation.StateQuestion5)
	msg := models.TextMessage(b.text(locale, "specify_answerer_location"),
		b.option(locale, "location_answer_1", IntentNearby),
		b.option(locale, "location_answer_2", IntentAnywhere),
	)
	return reply(convo, msg), nil
}

var questionFlowKeys = []string{
	conversation.KeyAskedQuestion, conversation.KeyDesiredAnswerer, conversation.KeyDesiredAnswererReason,
	conversation.KeySensitiveQuestion, conversation.KeyAnonymousQuestion, conversation.KeyCurrentState,
}

// actionQuestionFinal creates the task. The question keys are dropped on
// every exit path.
func (b *Bot) actionQuestionFinal(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	defer convo.Delete(questionFlowKeys...)

	question, err := convo.RequireString(conversation.KeyAskedQuestion)
	if err != nil {
		return router.Reply{}, err
	}
	answerer, err := convo.RequireString(conversation.KeyDesiredAnswerer)
	if err != nil {
		return router.Reply{}, err
	}
	details, err := convo.RequireString(conversation.KeyDesiredAnswererReason)
	if err != nil {
		return router.Reply{}, err
	}
	sensitive, err := convo.RequireString(conversation.KeySensitiveQuestion)
	if err != nil {
		return router.Reply{}, err
	}
	anonymous := convo.StringOr(conversation.KeyAnonymousQuestion, IntentNotAnonymous)
	wenetID := convo.StringOr(conversation.KeyWenetUserID, "")
	locale := b.locale(ctx, convo)

	task := models.Task{
		TypeID:      b.cfg.TaskTypeID,
		RequesterID: wenetID,
		AppID:       b.cfg.AppID,
		Goal:        models.TaskGoal{Name: question},
		Attributes: map[string]any{
			models.AttrKindOfAnswerer:     answerer,
			models.AttrAnsweredDetails:    details,
			models.AttrSensitive:          sensitive == IntentSensitive,
			models.AttrAnonymous:          anonymous == IntentAnonymous,
			models.AttrPositionOfAnswerer: ev.Intent,
		},
	}
	created, err := b.tasks.CreateTask(ctx, task)
	if err != nil {
		slog.Error("Bot question: task creation failed", "wenetID", wenetID, "error", err)
		if errors.Is(err, taskservice.ErrAuthExpired) {
			return reply(convo, b.serviceFailure(locale, ev.UserID, err)), nil
		}
		return reply(convo, models.TextMessage(b.text(locale, "error_task_creation"))), nil
	}
	slog.Info("Bot question: task created", "wenetID", wenetID, "taskID", created.ID, "position", ev.Intent)
	return reply(convo, models.TextMessage(b.text(locale, "question_final"))), nil
}

// requireTaskToAnswer returns the question_to_answer key of an answer flow step.
func requireTaskToAnswer(convo *conversation.Context) (string, error) {
	id, err := convo.RequireString(conversation.KeyQuestionToAnswer)
	if err != nil {
		return "", fmt.Errorf("answer flow in state %s: %w", convo.State(), err)
	}
	return id, nil
}
