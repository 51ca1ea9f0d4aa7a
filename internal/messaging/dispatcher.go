package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/flow"
	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/BTreeMap/AskForHelp/internal/router"
	"github.com/BTreeMap/AskForHelp/internal/store"
)

// TurnHandler computes the reply to one inbound event. *flow.Bot implements it.
type TurnHandler interface {
	HandleTurn(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error)
}

// DispatcherOpts holds optional Dispatcher dependencies.
type DispatcherOpts struct {
	Dedup store.DedupRepo
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*DispatcherOpts)

// WithDedup drops inbound messages whose transport ID was already handled.
func WithDedup(repo store.DedupRepo) DispatcherOption {
	return func(o *DispatcherOpts) { o.Dedup = repo }
}

// Dispatcher runs user turns one at a time per chat user: it loads the
// context, lets the handler compute the reply, saves the context and sends
// the messages. A failed turn still sends its messages but is not saved.
type Dispatcher struct {
	svc      Service
	contexts conversation.Store
	bot      TurnHandler
	dedup    store.DedupRepo
	locks    *userLocks
	inflight sync.WaitGroup
}

var _ flow.TurnRunner = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher that sends through svc.
func NewDispatcher(svc Service, contexts conversation.Store, bot TurnHandler, opts ...DispatcherOption) *Dispatcher {
	var cfg DispatcherOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{svc: svc, contexts: contexts, bot: bot, dedup: cfg.Dedup, locks: newUserLocks()}
}

// Start consumes the service's responses until ctx is done or the channel
// closes. Each response is handled on its own goroutine; turns of the same
// user stay serialized. Receipts are drained and logged.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher starting response processing")
	go func() {
		for {
			select {
			case receipt, ok := <-d.svc.Receipts():
				if !ok {
					return
				}
				slog.Debug("Dispatcher receipt", "to", receipt.To, "status", receipt.Status)
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer slog.Info("Dispatcher stopped response processing")
		for {
			select {
			case response, ok := <-d.svc.Responses():
				if !ok {
					slog.Debug("Dispatcher responses channel closed")
					return
				}
				d.inflight.Add(1)
				go func() {
					defer d.inflight.Done()
					if err := d.HandleResponse(ctx, response); err != nil {
						slog.Error("Dispatcher failed to process response", "error", err, "from", response.From)
					}
				}()
			case <-ctx.Done():
				slog.Debug("Dispatcher stopping due to context cancellation")
				return
			}
		}
	}()
}

// Wait blocks until every in-flight response is handled.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// HandleResponse runs the bot turn for one inbound chat message.
func (d *Dispatcher) HandleResponse(ctx context.Context, response models.Response) error {
	userID, err := d.svc.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	if d.dedup != nil && response.ID != "" {
		fresh, err := d.dedup.RecordInbound(ctx, response.ID, userID)
		if err != nil {
			return fmt.Errorf("record inbound %s: %w", response.ID, err)
		}
		if !fresh {
			slog.Info("Dispatcher dropping duplicate message", "messageID", response.ID, "userID", userID)
			return nil
		}
	}

	err = d.RunTurn(ctx, userID, func(ctx context.Context, convo *conversation.Context) (router.Reply, error) {
		ev := inboundEvent(response, userID, convo)
		slog.Debug("Dispatcher turn", "userID", userID, "kind", ev.Kind, "intent", ev.Intent, "state", convo.State().String())
		return d.bot.HandleTurn(ctx, ev, convo)
	})

	if d.dedup != nil && response.ID != "" {
		if markErr := d.dedup.MarkProcessed(ctx, response.ID); markErr != nil {
			slog.Error("Dispatcher failed to mark message processed", "messageID", response.ID, "error", markErr)
		}
	}
	return err
}

// RunTurn implements flow.TurnRunner.
func (d *Dispatcher) RunTurn(ctx context.Context, userID string, fn flow.TurnFunc) error {
	unlock := d.locks.lock(userID)
	defer unlock()

	convo, err := d.contexts.LoadContext(ctx, userID)
	if err != nil {
		return fmt.Errorf("load context of %s: %w", userID, err)
	}

	out, turnErr := fn(ctx, convo)
	if turnErr == nil && out.Context != nil {
		rememberOptions(out.Context, out.Messages)
		if err := d.contexts.SaveContext(ctx, userID, out.Context); err != nil {
			return fmt.Errorf("save context of %s: %w", userID, err)
		}
	}

	var sendErrs []error
	for _, msg := range out.Messages {
		if err := d.svc.SendMessage(ctx, userID, Render(msg)); err != nil {
			slog.Error("Dispatcher send failed", "userID", userID, "error", err)
			sendErrs = append(sendErrs, err)
		}
	}
	if turnErr != nil {
		return turnErr
	}
	return errors.Join(sendErrs...)
}

// inboundEvent maps a reply to the options last offered to the user. A
// number picks an option by position and an exact label picks it by name;
// anything else is free text.
func inboundEvent(response models.Response, userID string, convo *conversation.Context) models.Event {
	body := strings.TrimSpace(response.Body)
	var offered []models.Option
	if _, err := convo.Decode(conversation.KeyOfferedOptions, &offered); err != nil {
		slog.Warn("Dispatcher ignoring undecodable offered options", "userID", userID, "error", err)
		offered = nil
	}
	if n, err := strconv.Atoi(body); err == nil && n >= 1 && n <= len(offered) {
		return models.NewActionEvent(response.ID, userID, offered[n-1].Intent)
	}
	for _, opt := range offered {
		if strings.EqualFold(body, opt.Label) {
			return models.NewActionEvent(response.ID, userID, opt.Intent)
		}
	}
	return models.NewTextEvent(response.ID, userID, response.Body)
}

// rememberOptions records the options of the last message offering any.
// A reply without options clears them so stale numbers map to free text.
func rememberOptions(convo *conversation.Context, msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].HasOptions() {
			convo.Set(conversation.KeyOfferedOptions, msgs[i].Options)
			return
		}
	}
	convo.Delete(conversation.KeyOfferedOptions)
}
