package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/router"
	"github.com/BTreeMap/AskForHelp/internal/store"
)

// RegisterJobHandlers registers the flow job handlers with runner.
func RegisterJobHandlers(runner *store.JobRunner, r *Reconciler) {
	runner.RegisterHandler(JobKindQuestionReminder, r.handleQuestionReminder)
}

// handleQuestionReminder re-sends a postponed offer and forgets it. A reminder
// whose entry is gone (already delivered or dropped) is a no-op.
func (r *Reconciler) handleQuestionReminder(ctx context.Context, payload string) error {
	var p QuestionReminderPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("invalid %s payload: %w", JobKindQuestionReminder, err)
	}
	slog.Info("JobHandler.question_reminder: executing", "userID", p.UserID, "taskID", p.TaskID)

	return r.turns.RunTurn(ctx, p.UserID, func(ctx context.Context, convo *conversation.Context) (router.Reply, error) {
		pending, err := pendingAnswers(convo)
		if err != nil {
			return router.Reply{}, err
		}
		entry, ok := pending[p.TaskID]
		if !ok {
			slog.Info("JobHandler.question_reminder: nothing pending, skipping", "userID", p.UserID, "taskID", p.TaskID)
			return router.Reply{}, nil
		}
		delete(pending, p.TaskID)
		storePendingAnswers(convo, pending)

		notice := r.preempt(convo, r.bot.locale(ctx, convo))
		return reply(convo, append(notice.Messages, entry.Message)...), nil
	})
}
