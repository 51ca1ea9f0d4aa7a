package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/BTreeMap/AskForHelp/internal/router"
	"github.com/BTreeMap/AskForHelp/internal/taskservice"
)

// ErrNoAccount is returned when a hub user is not linked to exactly one chat user.
var ErrNoAccount = errors.New("no single chat account for hub user")

// TurnFunc computes a reply for one user turn. A nil Reply.Context leaves the
// stored context untouched.
type TurnFunc func(ctx context.Context, convo *conversation.Context) (router.Reply, error)

// TurnRunner runs fn serialized with the user's other turns, then persists
// the returned context and sends the messages. messaging.Dispatcher
// implements it.
type TurnRunner interface {
	RunTurn(ctx context.Context, userID string, fn TurnFunc) error
}

// Notification is what was delivered to a chat user for an asynchronous event.
type Notification struct {
	UserID   string
	Messages []models.Message
}

// Reconciler delivers hub pushes, login results and reminders. A push that
// arrives while the user is mid-flow cancels the flow and says so.
type Reconciler struct {
	bot      *Bot
	accounts conversation.AccountStore
	turns    TurnRunner
}

// NewReconciler creates a Reconciler.
func NewReconciler(bot *Bot, accounts conversation.AccountStore, turns TurnRunner) *Reconciler {
	return &Reconciler{bot: bot, accounts: accounts, turns: turns}
}

// Receiver resolves the chat user a hub user is linked to.
func (r *Reconciler) Receiver(ctx context.Context, hubUserID string) (string, error) {
	users, err := r.accounts.ChatUsersForHubUser(ctx, hubUserID)
	if err != nil {
		return "", fmt.Errorf("resolve accounts of %s: %w", hubUserID, err)
	}
	if len(users) != 1 {
		return "", fmt.Errorf("%w: %s has %d", ErrNoAccount, hubUserID, len(users))
	}
	return users[0], nil
}

// OnExternalMessage delivers a hub push to its receiver. An active flow is
// cancelled and the notice delivered in its own turn, so the user learns of
// the interruption even when rendering the push fails.
func (r *Reconciler) OnExternalMessage(ctx context.Context, msg models.ExternalMessage) (Notification, error) {
	chatUserID, err := r.Receiver(ctx, msg.Receiver())
	if err != nil {
		slog.Error("Reconciler OnExternalMessage: receiver not found", "type", msg.Type(), "receiver", msg.Receiver(), "error", err)
		return Notification{}, err
	}

	n := Notification{UserID: chatUserID}
	locale := r.bot.localeFor(ctx, msg.Receiver())
	err = r.turns.RunTurn(ctx, chatUserID, func(ctx context.Context, convo *conversation.Context) (router.Reply, error) {
		out := r.preempt(convo, locale)
		n.Messages = append(n.Messages, out.Messages...)
		return out, nil
	})
	if err != nil {
		return Notification{}, err
	}

	err = r.turns.RunTurn(ctx, chatUserID, func(ctx context.Context, convo *conversation.Context) (router.Reply, error) {
		out, err := r.reconcile(ctx, chatUserID, locale, msg, convo)
		n.Messages = append(n.Messages, out.Messages...)
		return out, err
	})
	if err != nil {
		return Notification{}, err
	}
	slog.Info("Reconciler OnExternalMessage delivered", "type", msg.Type(), "userID", chatUserID, "messages", len(n.Messages))
	return n, nil
}

func (r *Reconciler) reconcile(ctx context.Context, chatUserID, locale string, msg models.ExternalMessage, convo *conversation.Context) (router.Reply, error) {
	b := r.bot
	body, err := r.render(ctx, locale, msg)
	if errors.Is(err, taskservice.ErrAuthExpired) {
		slog.Info("Reconciler: hub login expired", "userID", chatUserID, "type", msg.Type())
		return reply(convo, b.serviceFailure(locale, chatUserID, err)), nil
	}
	if err != nil {
		return router.Reply{}, err
	}
	return reply(convo, body...), nil
}

// preempt cancels an active flow and returns the notice. An idle context is
// left untouched.
func (r *Reconciler) preempt(convo *conversation.Context, locale string) router.Reply {
	if !convo.InActiveFlow() {
		return router.Reply{}
	}
	slog.Info("Reconciler: preempting active flow", "state", convo.State().String())
	convo.ClearFlow()
	return reply(convo, models.TextMessage(r.bot.text(locale, "message_from_wenet")))
}

func (r *Reconciler) render(ctx context.Context, locale string, msg models.ExternalMessage) ([]models.Message, error) {
	b := r.bot
	switch msg.Type() {
	case models.TypeTextualMessage:
		m, ok := msg.(models.TextualMessage)
		if !ok {
			break
		}
		text := "_" + EscapeMarkdown(m.Text) + "_"
		if m.Title != "" {
			text = "*" + EscapeMarkdown(m.Title) + "*\n" + text
		}
		return []models.Message{models.TextMessage(text)}, nil

	case models.TypeQuestionToAnswer:
		m, ok := msg.(models.QuestionToAnswerMessage)
		if !ok {
			break
		}
		var asker models.UserProfile
		var task models.Task
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) { asker, err = b.tasks.GetUserProfile(gctx, m.UserID); return })
		g.Go(func() (err error) { task, err = b.tasks.GetTask(gctx, m.TaskID); return })
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("question %s: %w", m.TaskID, err)
		}
		offer, err := b.renderQuestionOffer(ctx, locale, questionOffer{
			TaskID:    m.TaskID,
			Question:  m.Question,
			Username:  asker.DisplayName(task.BoolAttribute(models.AttrAnonymous)),
			Sensitive: task.BoolAttribute(models.AttrSensitive),
			Nearby:    task.StringAttribute(models.AttrPositionOfAnswerer) == models.PositionNearby,
		})
		if err != nil {
			return nil, err
		}
		return []models.Message{offer}, nil

	case models.TypeAnsweredQuestion:
		m, ok := msg.(models.AnsweredQuestionMessage)
		if !ok {
			break
		}
		var answerer models.UserProfile
		var task models.Task
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) { answerer, err = b.tasks.GetUserProfile(gctx, m.UserID); return })
		g.Go(func() (err error) { task, err = b.tasks.GetTask(gctx, m.TaskID); return })
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("answer to %s: %w", m.TaskID, err)
		}
		hidden := false
		if tr, ok := task.Transaction(m.TransactionID); ok {
			hidden, _ = tr.Attributes[models.AttrAnonymous].(bool)
		}
		task.ID = m.TaskID
		answer, err := b.renderAnsweredQuestion(ctx, locale, task, m.TransactionID, m.Answer, answerer.DisplayName(hidden))
		if err != nil {
			return nil, err
		}
		return []models.Message{answer}, nil

	case models.TypeAnsweredPicked:
		m, ok := msg.(models.AnsweredPickedMessage)
		if !ok {
			break
		}
		task, err := b.tasks.GetTask(ctx, m.TaskID)
		if err != nil {
			return nil, fmt.Errorf("picked answer of %s: %w", m.TaskID, err)
		}
		text := b.text(locale, "picked_best_answer", "question", EscapeMarkdown(task.Goal.Name))
		return []models.Message{models.TextMessage(text)}, nil

	case models.TypeIncentiveMessage:
		m, ok := msg.(models.IncentiveMessage)
		if !ok {
			break
		}
		return []models.Message{models.TextMessage(m.Content)}, nil

	case models.TypeIncentiveBadge:
		m, ok := msg.(models.IncentiveBadge)
		if !ok {
			break
		}
		return []models.Message{models.TextMessage(m.Message), models.ImageMessage(m.ImageURL)}, nil
	}
	slog.Error("Reconciler: unrecognized message", "type", msg.Type())
	return nil, fmt.Errorf("%w: %s", models.ErrUnknownMessageKind, msg.Type())
}

// OnAuthentication links a hub user to a chat user after a successful login
// and sends the welcome messages.
func (r *Reconciler) OnAuthentication(ctx context.Context, chatUserID, hubUserID string) (Notification, error) {
	n := Notification{UserID: chatUserID}
	if err := r.accounts.LinkAccount(ctx, hubUserID, chatUserID); err != nil {
		slog.Error("Reconciler OnAuthentication: link failed", "chatUserID", chatUserID, "hubUserID", hubUserID, "error", err)
		r.sendAuthFailure(ctx, chatUserID)
		return Notification{}, fmt.Errorf("link account: %w", err)
	}
	err := r.turns.RunTurn(ctx, chatUserID, func(ctx context.Context, convo *conversation.Context) (router.Reply, error) {
		convo.Set(conversation.KeyWenetUserID, hubUserID)
		n.Messages = r.bot.StartMessages(r.bot.localeFor(ctx, hubUserID))
		return reply(convo, n.Messages...), nil
	})
	if err != nil {
		return Notification{}, err
	}
	slog.Info("Reconciler OnAuthentication linked", "chatUserID", chatUserID, "hubUserID", hubUserID)
	return n, nil
}

func (r *Reconciler) sendAuthFailure(ctx context.Context, chatUserID string) {
	err := r.turns.RunTurn(ctx, chatUserID, func(context.Context, *conversation.Context) (router.Reply, error) {
		return router.Reply{Messages: []models.Message{models.TextMessage(r.bot.text(DefaultLocale, "authentication_failed"))}}, nil
	})
	if err != nil {
		slog.Error("Reconciler: failed to notify login failure", "chatUserID", chatUserID, "error", err)
	}
}
