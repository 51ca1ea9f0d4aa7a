package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/BTreeMap/AskForHelp/internal/router"
)

var answerFlowKeys = []string{
	conversation.KeyQuestionToAnswer, conversation.KeyAnswerToQuestion, conversation.KeyCurrentState,
}

// enterAnswerFlow moves convo into the answer flow for taskID.
func enterAnswerFlow(convo *conversation.Context, taskID string, sensitive bool) {
	convo.Set(conversation.KeyQuestionToAnswer, taskID)
	if sensitive {
		convo.SetState(conversation.StateAnsweringSensitive)
	} else {
		convo.SetState(conversation.StateAnswering)
	}
}

// actionAnswerQuestion handles the answer button of a question offer. The
// conduct reminder is shown on the first answer and then at random.
func (b *Bot) actionAnswerQuestion(ctx context.Context, convo *conversation.Context, payload models.ButtonPayload) (router.Reply, error) {
	locale := b.locale(ctx, convo)
	showConduct := true
	if wenetID, ok := convo.String(conversation.KeyWenetUserID); ok && wenetID != "" {
		showConduct = b.isFirstAnswer(ctx, wenetID) || b.chance(b.cfg.ConductProbability)
	}

	sensitive := payload.Sensitive()
	enterAnswerFlow(convo, payload.TaskID(), sensitive)
	key := "answer_question"
	if sensitive {
		key = "answer_sensitive_question"
	}
	msgs := []models.Message{models.TextMessage(b.text(locale, key))}
	if showConduct {
		msgs = append(msgs, models.TextMessage(b.text(locale, "question_0")))
	}
	return reply(convo, msgs...), nil
}

// actionAnswerPickedQuestion handles a question picked from the /answer listing.
func (b *Bot) actionAnswerPickedQuestion(ctx context.Context, ev models.Event, convo *conversation.Context, payload models.ButtonPayload) (router.Reply, error) {
	locale := b.locale(ctx, convo)
	task, err := b.tasks.GetTask(ctx, payload.TaskID())
	if err != nil {
		slog.Error("Bot picked answer: task lookup failed", "taskID", payload.TaskID(), "error", err)
		return reply(convo, b.serviceFailure(locale, ev.UserID, err)), nil
	}

	sensitive := payload.Sensitive()
	convo.Delete(conversation.KeyProposedTasks)
	enterAnswerFlow(convo, payload.TaskID(), sensitive)
	key := "you_are_answering_to"
	if sensitive {
		key = "you_are_answering_to_sensitive"
	}
	msgs := []models.Message{models.TextMessage(b.text(locale, key, "question", EscapeMarkdown(task.Goal.Name)))}
	if wenetID, ok := convo.String(conversation.KeyWenetUserID); ok && b.isFirstAnswer(ctx, wenetID) {
		msgs = append(msgs, models.TextMessage(b.text(locale, "question_0")))
	}
	return reply(convo, msgs...), nil
}

// actionAnswer2 posts the answer to a non-sensitive question.
func (b *Bot) actionAnswer2(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	taskID, err := requireTaskToAnswer(convo)
	if err != nil {
		return router.Reply{}, err
	}
	locale := b.locale(ctx, convo)
	if !ev.IsText() {
		return reply(convo, models.TextMessage(b.text(locale, "answerer_is_not_text"))), nil
	}
	defer convo.Delete(answerFlowKeys...)
	return b.postAnswer(ctx, ev, convo, locale, taskID, ev.Text, false), nil
}

// actionAnswerSensitive stores the answer to a sensitive question and asks
// whether to post it anonymously.
func (b *Bot) actionAnswerSensitive(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	if _, err := requireTaskToAnswer(convo); err != nil {
		return router.Reply{}, err
	}
	locale := b.locale(ctx, convo)
	if !ev.IsText() {
		return reply(convo, models.TextMessage(b.text(locale, "answerer_is_not_text"))), nil
	}
	convo.Set(conversation.KeyAnswerToQuestion, ev.Text)
	convo.SetState(conversation.StateAnsweringAnonymously)
	msg := models.TextMessage(b.text(locale, "answer_anonymously"),
		b.option(locale, "anonymous_answer_1", IntentAnswerAnonymously),
		b.option(locale, "anonymous_answer_2", IntentAnswerNotAnonymously),
	)
	return reply(convo, msg), nil
}

// actionAnswerAnonymously posts the stored sensitive answer.
func (b *Bot) actionAnswerAnonymously(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	taskID, err := requireTaskToAnswer(convo)
	if err != nil {
		return router.Reply{}, err
	}
	answer, err := convo.RequireString(conversation.KeyAnswerToQuestion)
	if err != nil {
		return router.Reply{}, err
	}
	defer convo.Delete(answerFlowKeys...)
	locale := b.locale(ctx, convo)
	return b.postAnswer(ctx, ev, convo, locale, taskID, answer, ev.Intent == IntentAnswerAnonymously), nil
}

func (b *Bot) postAnswer(ctx context.Context, ev models.Event, convo *conversation.Context, locale, taskID, answer string, anonymous bool) router.Reply {
	tr := models.TaskTransaction{
		TaskID:      taskID,
		Label:       models.LabelAnswerTransaction,
		ActioneerID: convo.StringOr(conversation.KeyWenetUserID, ""),
		Attributes:  map[string]any{"answer": answer, "anonymous": anonymous},
	}
	if err := b.tasks.CreateTaskTransaction(ctx, tr); err != nil {
		slog.Error("Bot answer: transaction failed", "taskID", taskID, "error", err)
		return reply(convo, b.serviceFailure(locale, ev.UserID, err))
	}
	key := "answered_message"
	if anonymous {
		key = "answered_message_anonymously"
	}
	slog.Info("Bot answer: posted", "taskID", taskID, "anonymous", anonymous)
	return reply(convo, models.TextMessage(b.text(locale, key)))
}
