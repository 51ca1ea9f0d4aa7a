package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/BTreeMap/AskForHelp/internal/router"
	"github.com/BTreeMap/AskForHelp/internal/taskservice"
)

// actionBrowse lists up to three open questions the user did not ask and did
// not answer yet, each with its own "pick" button.
func (b *Bot) actionBrowse(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	locale := b.locale(ctx, convo)
	wenetID := convo.StringOr(conversation.KeyWenetUserID, "")

	all, err := b.tasks.GetAllTasksOfApplication(ctx, b.cfg.AppID)
	if err != nil {
		slog.Error("Bot browse: task listing failed", "appID", b.cfg.AppID, "error", err)
		return reply(convo, b.serviceFailure(locale, ev.UserID, err)), nil
	}
	var candidates []models.Task
	for _, t := range all {
		if t.RequesterID != wenetID && !t.AnsweredBy(wenetID) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return reply(convo, models.TextMessage(b.text(locale, "answers_no_tasks"))), nil
	}
	if len(candidates) > maxProposedTasks {
		picked := make([]models.Task, 0, maxProposedTasks)
		for _, i := range b.perm(len(candidates))[:maxProposedTasks] {
			picked = append(picked, candidates[i])
		}
		candidates = picked
	}

	profiles, err := b.requesterProfiles(ctx, candidates)
	if err != nil {
		return reply(convo, b.serviceFailure(locale, ev.UserID, err)), nil
	}

	lines := []string{b.text(locale, "answers_tasks_intro")}
	var options []models.Option
	var proposed []any
	for i, t := range candidates {
		profile, ok := profiles[i]
		if !ok {
			continue
		}
		n := len(options) + 1
		line := fmt.Sprintf("#%d: *%s* - %s", n, EscapeMarkdown(t.Goal.Name), profile.DisplayName(t.BoolAttribute(models.AttrAnonymous)))
		if t.BoolAttribute(models.AttrSensitive) {
			line += " - " + b.text(locale, "sensitive")
		}
		key, err := b.payloads.Cache(ctx, models.NewButtonPayload(map[string]any{
			models.PayloadTaskID:    t.ID,
			models.PayloadSensitive: t.BoolAttribute(models.AttrSensitive),
		}, IntentAnswerPickedQuestion))
		if err != nil {
			return router.Reply{}, err
		}
		lines = append(lines, line)
		options = append(options, models.Option{Label: fmt.Sprintf("#%d", n), Intent: models.ButtonIntent(key)})
		proposed = append(proposed, t.ID)
	}
	if len(options) == 0 {
		return reply(convo, models.TextMessage(b.text(locale, "answers_no_tasks"))), nil
	}
	lines = append(lines, b.text(locale, "answers_tasks_choose"))
	convo.Set(conversation.KeyProposedTasks, proposed)
	return reply(convo, models.TextMessage(strings.Join(lines, "\n"), options...)), nil
}

// requesterProfiles fetches the askers of tasks in parallel, keyed by index.
// Tasks whose asker cannot be found are left out; an expired login aborts.
func (b *Bot) requesterProfiles(ctx context.Context, tasks []models.Task) (map[int]models.UserProfile, error) {
	found := make([]*models.UserProfile, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			p, err := b.tasks.GetUserProfile(gctx, t.RequesterID)
			if errors.Is(err, taskservice.ErrAuthExpired) {
				return err
			}
			if err != nil {
				slog.Info("Bot browse: requester profile unavailable", "taskID", t.ID, "requester", t.RequesterID, "error", err)
				return nil
			}
			found[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[int]models.UserProfile, len(tasks))
	for i, p := range found {
		if p != nil {
			out[i] = *p
		}
	}
	return out, nil
}
