// Package flow implements the AskForHelp conversation: the rule table, the
// question and answer state machines, button actions and the reconciliation
// of hub pushes with in-progress flows.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AskForHelp/internal/cache"
	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/BTreeMap/AskForHelp/internal/router"
	"github.com/BTreeMap/AskForHelp/internal/taskservice"
)

// Defaults for the tunables exposed through Options.
const (
	DefaultLocaleTTL          = 24 * time.Hour
	DefaultConductProbability = 0.2
	DefaultReminderDelay      = time.Hour
	DefaultLocale             = "en"
)

// Translator renders a localized text with {name} substitutions.
type Translator interface {
	Translate(key, locale string, subs map[string]string) string
}

// JobScheduler enqueues durable jobs. store.JobRepo satisfies it.
type JobScheduler interface {
	EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error)
}

// Opts holds Bot configuration.
type Opts struct {
	AppID              string
	TaskTypeID         string
	HubURL             string
	AuthURL            string
	LocaleTTL          time.Duration
	ConductProbability float64
	ReminderDelay      time.Duration
	Jobs               JobScheduler
	Rand               *rand.Rand
}

// Option configures a Bot.
type Option func(*Opts)

// WithAppID sets the hub application ID used for task creation, listing and login links.
func WithAppID(id string) Option {
	return func(o *Opts) { o.AppID = id }
}

// WithTaskTypeID sets the task type of created questions.
func WithTaskTypeID(id string) Option {
	return func(o *Opts) { o.TaskTypeID = id }
}

// WithHubURL sets the hub base URL shown in the badges message.
func WithHubURL(u string) Option {
	return func(o *Opts) { o.HubURL = strings.TrimRight(u, "/") }
}

// WithAuthURL sets the base URL of the login page.
func WithAuthURL(u string) Option {
	return func(o *Opts) { o.AuthURL = strings.TrimRight(u, "/") }
}

// WithLocaleTTL sets how long profile locales are cached.
func WithLocaleTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.LocaleTTL = ttl }
}

// WithConductProbability sets how often the conduct reminder is shown to
// users who already answered once. Values are clamped to [0, 1].
func WithConductProbability(p float64) Option {
	return func(o *Opts) { o.ConductProbability = p }
}

// WithReminderDelay sets how long "remind me later" waits.
func WithReminderDelay(d time.Duration) Option {
	return func(o *Opts) { o.ReminderDelay = d }
}

// WithJobs enables durable reminders.
func WithJobs(j JobScheduler) Option {
	return func(o *Opts) { o.Jobs = j }
}

// WithRand replaces the random source used for the conduct reminder and /answer sampling.
func WithRand(r *rand.Rand) Option {
	return func(o *Opts) { o.Rand = r }
}

// Bot holds the rule table and every turn handler.
type Bot struct {
	cfg      Opts
	tasks    taskservice.Service
	payloads *cache.PayloadCache
	tr       Translator
	router   *router.Router

	randMu sync.Mutex
	rng    *rand.Rand
	now    func() time.Time
}

// New creates a Bot.
func New(tasks taskservice.Service, payloads *cache.PayloadCache, tr Translator, opts ...Option) *Bot {
	cfg := Opts{
		LocaleTTL:          DefaultLocaleTTL,
		ConductProbability: DefaultConductProbability,
		ReminderDelay:      DefaultReminderDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.LocaleTTL <= 0 {
		cfg.LocaleTTL = DefaultLocaleTTL
	}
	if cfg.ReminderDelay <= 0 {
		cfg.ReminderDelay = DefaultReminderDelay
	}
	cfg.ConductProbability = min(max(cfg.ConductProbability, 0), 1)
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	b := &Bot{cfg: cfg, tasks: tasks, payloads: payloads, tr: tr, rng: rng, now: time.Now}
	b.router = router.New(b.Rules()...)
	slog.Info("Bot created", "appID", cfg.AppID, "rules", len(b.router.Labels()),
		"conductProbability", cfg.ConductProbability, "reminders", cfg.Jobs != nil)
	return b
}

// Router returns the bot's rule table.
func (b *Bot) Router() *router.Router {
	return b.router
}

// Rules returns the rules in evaluation order. Base commands come first and
// the button catch-all last.
func (b *Bot) Rules() []router.Rule {
	return []router.Rule{
		router.NewRule("start", b.actionStart, router.Intent(IntentStart)),
		router.NewRule("help", b.actionInfo, router.Intent(IntentHelp)),
		router.NewRule("info", b.actionInfo, router.Intent(IntentInfo)),
		router.NewRule("cancel", b.actionCancel, router.Intent(IntentCancel)),

		router.NewRule("question", b.actionQuestion, router.Intent(IntentQuestion)),
		router.NewRule("question_first", b.actionQuestion, router.Intent(IntentQuestionFirst)),
		router.NewRule("question_1", b.actionQuestion2, router.InState(conversation.StateQuestion1)),
		router.NewRule("question_2/different", b.actionQuestion3, router.Intent(IntentAskToDifferent), router.InState(conversation.StateQuestion2)),
		router.NewRule("question_2/similar", b.actionQuestion3, router.Intent(IntentAskToSimilar), router.InState(conversation.StateQuestion2)),
		router.NewRule("question_2/anyone", b.actionQuestion3, router.Intent(IntentAskToAnyone), router.InState(conversation.StateQuestion2)),
		router.NewRule("question_3", b.actionQuestion4, router.InState(conversation.StateQuestion3)),
		router.NewRule("question_4/sensitive", b.actionQuestion41, router.Intent(IntentSensitive), router.InState(conversation.StateQuestion4)),
		router.NewRule("question_4/not_sensitive", b.actionQuestion5, router.Intent(IntentNotSensitive), router.InState(conversation.StateQuestion4)),
		router.NewRule("question_4_1/anonymous", b.actionQuestion5, router.Intent(IntentAnonymous), router.InState(conversation.StateQuestion41)),
		router.NewRule("question_4_1/not_anonymous", b.actionQuestion5, router.Intent(IntentNotAnonymous), router.InState(conversation.StateQuestion41)),
		router.NewRule("question_5/nearby", b.actionQuestionFinal, router.Intent(IntentNearby), router.InState(conversation.StateQuestion5)),
		router.NewRule("question_5/anywhere", b.actionQuestionFinal, router.Intent(IntentAnywhere), router.InState(conversation.StateQuestion5)),

		router.NewRule("answer_sensitive", b.actionAnswerSensitive, router.InState(conversation.StateAnsweringSensitive)),
		router.NewRule("answer_2", b.actionAnswer2, router.InState(conversation.StateAnswering)),
		router.NewRule("answer_anonymously/yes", b.actionAnswerAnonymously, router.Intent(IntentAnswerAnonymously), router.InState(conversation.StateAnsweringAnonymously)),
		router.NewRule("answer_anonymously/no", b.actionAnswerAnonymously, router.Intent(IntentAnswerNotAnonymously), router.InState(conversation.StateAnsweringAnonymously)),

		router.NewRule("answer", b.actionBrowse, router.Intent(IntentAnswer)),

		router.NewRule("button", b.handleButton, router.IntentMatches(models.ButtonIntentPattern)),
	}
}

// HandleTurn routes one inbound event. Users without a linked hub account get
// the login link. An unmatched event gets the generic error text. A failing
// handler yields the error text together with the error; callers must not
// persist the context in that case.
func (b *Bot) HandleTurn(ctx context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	if !convo.Has(conversation.KeyWenetUserID) {
		slog.Info("Bot HandleTurn: user not logged in", "userID", ev.UserID)
		msg := b.text(DefaultLocale, "login_first", "url", b.LoginLink(ev.UserID))
		return reply(convo, models.TextMessage(msg)), nil
	}

	rule, err := b.router.Route(ev, convo)
	if errors.Is(err, router.ErrNoRoute) {
		slog.Info("Bot HandleTurn: no rule matched", "userID", ev.UserID, "intent", ev.Intent, "state", convo.State().String())
		return b.actionError(ctx, ev, convo)
	}
	if err != nil {
		return router.Reply{}, err
	}

	out, err := rule.Handler(ctx, ev, convo)
	if err != nil {
		slog.Error("Bot HandleTurn: handler failed", "rule", rule.Label, "userID", ev.UserID, "error", err)
		locale := b.locale(ctx, convo)
		return router.Reply{Messages: []models.Message{models.TextMessage(b.text(locale, "error_text"))}},
			fmt.Errorf("%s: %w", rule.Label, err)
	}
	return out, nil
}

// LoginLink returns the hub login URL for a chat user.
func (b *Bot) LoginLink(chatUserID string) string {
	q := url.Values{}
	q.Set("client_id", b.cfg.AppID)
	q.Set("external_id", chatUserID)
	return b.cfg.AuthURL + "/login?" + q.Encode()
}

// text translates key with substitutions given as name/value pairs.
func (b *Bot) text(locale, key string, pairs ...string) string {
	var subs map[string]string
	if len(pairs) > 0 {
		subs = make(map[string]string, len(pairs)/2)
		for i := 0; i+1 < len(pairs); i += 2 {
			subs[pairs[i]] = pairs[i+1]
		}
	}
	return b.tr.Translate(key, locale, subs)
}

func (b *Bot) option(locale, labelKey, intent string) models.Option {
	return models.Option{Label: b.text(locale, labelKey), Intent: intent}
}

func reply(convo *conversation.Context, msgs ...models.Message) router.Reply {
	return router.Reply{Messages: msgs, Context: convo}
}

// serviceFailure renders a task service error: the login link when the hub
// rejected our credentials, the retry-later text otherwise.
func (b *Bot) serviceFailure(locale, chatUserID string, err error) models.Message {
	if errors.Is(err, taskservice.ErrAuthExpired) {
		return models.TextMessage(b.text(locale, "login_required", "url", b.LoginLink(chatUserID)))
	}
	return models.TextMessage(b.text(locale, "retry_later"))
}

func (b *Bot) chance(p float64) bool {
	b.randMu.Lock()
	defer b.randMu.Unlock()
	return b.rng.Float64() < p
}

func (b *Bot) perm(n int) []int {
	b.randMu.Lock()
	defer b.randMu.Unlock()
	return b.rng.Perm(n)
}
