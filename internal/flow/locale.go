package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/AskForHelp/internal/cache"
	"github.com/BTreeMap/AskForHelp/internal/conversation"
)

type cachedLocale struct {
	Locale string `json:"locale"`
}

type firstAnswerFlag struct {
	HasAnswered bool `json:"has_answered"`
}

// locale returns the locale of the hub user linked to convo.
func (b *Bot) locale(ctx context.Context, convo *conversation.Context) string {
	wenetID, ok := convo.String(conversation.KeyWenetUserID)
	if !ok || wenetID == "" {
		return DefaultLocale
	}
	return b.localeFor(ctx, wenetID)
}

// localeFor reads the profile locale of a hub user through the cache.
// Lookup failures fall back to the default locale and are not cached.
func (b *Bot) localeFor(ctx context.Context, wenetID string) string {
	key := cacheLocalePrefix + wenetID
	var cached cachedLocale
	found, err := b.payloads.Get(ctx, key, &cached)
	if err != nil {
		slog.Error("Bot locale cache read failed", "wenetID", wenetID, "error", err)
	}
	if found && cached.Locale != "" {
		return cached.Locale
	}

	profile, err := b.tasks.GetUserProfile(ctx, wenetID)
	if err != nil {
		slog.Info("Bot locale: unable to retrieve user profile", "wenetID", wenetID, "error", err)
		return DefaultLocale
	}
	locale := profile.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	if _, err := b.payloads.Cache(ctx, cachedLocale{Locale: locale}, cache.WithKey(key), cache.WithTTL(b.cfg.LocaleTTL)); err != nil {
		slog.Error("Bot locale cache write failed", "wenetID", wenetID, "error", err)
	}
	return locale
}

// isFirstAnswer reports whether wenetID never started an answer before and
// records that it now has.
func (b *Bot) isFirstAnswer(ctx context.Context, wenetID string) bool {
	key := cacheFirstAnswerPrefix + wenetID
	var flag firstAnswerFlag
	found, err := b.payloads.Get(ctx, key, &flag)
	if err != nil {
		slog.Error("Bot first answer lookup failed", "wenetID", wenetID, "error", err)
		return false
	}
	if found {
		return false
	}
	if _, err := b.payloads.Cache(ctx, firstAnswerFlag{HasAnswered: true}, cache.WithKey(key), cache.NoExpiry()); err != nil {
		slog.Error("Bot first answer flag write failed", "wenetID", wenetID, "error", err)
	}
	return true
}
