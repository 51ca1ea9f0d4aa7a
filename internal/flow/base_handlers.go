package flow

import (
	"context"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/BTreeMap/AskForHelp/internal/router"
)

// StartMessages returns the welcome sequence. The last message offers the
// first question.
func (b *Bot) StartMessages(locale string) []models.Message {
	return []models.Message{
		models.TextMessage(b.text(locale, "start_text_1")),
		models.TextMessage(b.text(locale, "start_text_2")),
		models.TextMessage(b.text(locale, "badges_promo", "base_url", b.cfg.HubURL, "app_id", b.cfg.AppID)),
		models.TextMessage(b.text(locale, "info_text"), b.option(locale, "start_button", IntentQuestionFirst)),
	}
}

func (b *Bot) actionStart(ctx context.Context, _ models.Event, convo *conversation.Context) (router.Reply, error) {
	return reply(convo, b.StartMessages(b.locale(ctx, convo))...), nil
}

func (b *Bot) actionInfo(ctx context.Context, _ models.Event, convo *conversation.Context) (router.Reply, error) {
	return reply(convo, models.TextMessage(b.text(b.locale(ctx, convo), "info_text"))), nil
}

func (b *Bot) actionCancel(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	convo.ClearFlow()
	return reply(convo, models.TextMessage(b.text(b.locale(ctx, convo), "cancel_text"))), nil
}

func (b *Bot) actionError(ctx context.Context, _ models.Event, convo *conversation.Context) (router.Reply, error) {
	return reply(convo, models.TextMessage(b.text(b.locale(ctx, convo), "error_text"))), nil
}
