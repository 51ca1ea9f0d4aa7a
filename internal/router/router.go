// Package router selects the handler for an inbound event from an ordered,
// immutable table of rules. The first rule whose predicates all hold wins.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
)

// ErrNoRoute is returned when no rule matches an event.
var ErrNoRoute = errors.New("no matching rule")

// Reply is what a handler returns: the messages to send and the context to persist.
type Reply struct {
	Messages []models.Message
	Context  *conversation.Context
}

// Handler processes one event against the user's context.
type Handler func(ctx context.Context, ev models.Event, convo *conversation.Context) (Reply, error)

// Predicate is a single matching condition of a rule.
type Predicate struct {
	intent   string
	ctxKey   string
	ctxValue string
	regex    *regexp.Regexp
}

// Intent matches events whose intent equals intent.
func Intent(intent string) Predicate {
	return Predicate{intent: intent}
}

// ContextEquals matches when the context holds value under key.
func ContextEquals(key, value string) Predicate {
	return Predicate{ctxKey: key, ctxValue: value}
}

// InState matches when the context's current_state equals state.
func InState(state conversation.State) Predicate {
	return ContextEquals(conversation.KeyCurrentState, string(state))
}

// IntentMatches matches events whose intent matches pattern. It panics on an
// invalid pattern, like regexp.MustCompile.
func IntentMatches(pattern string) Predicate {
	return Predicate{regex: regexp.MustCompile(pattern)}
}

func (p Predicate) holds(ev models.Event, convo *conversation.Context) bool {
	switch {
	case p.regex != nil:
		return p.regex.MatchString(ev.Intent)
	case p.ctxKey != "":
		v, ok := convo.String(p.ctxKey)
		return ok && v == p.ctxValue
	default:
		return ev.Intent == p.intent
	}
}

// Rule binds a labelled handler to its predicates.
type Rule struct {
	Label      string
	Handler    Handler
	predicates []Predicate
}

// NewRule builds a rule. A rule without predicates never matches.
func NewRule(label string, handler Handler, predicates ...Predicate) Rule {
	preds := make([]Predicate, len(predicates))
	copy(preds, predicates)
	return Rule{Label: label, Handler: handler, predicates: preds}
}

// Matches reports whether every predicate holds for the event and context.
func (r Rule) Matches(ev models.Event, convo *conversation.Context) bool {
	if len(r.predicates) == 0 {
		return false
	}
	for _, p := range r.predicates {
		if !p.holds(ev, convo) {
			return false
		}
	}
	return true
}

// Router is an immutable ordered rule table.
type Router struct {
	rules []Rule
}

// New creates a Router. Rules are evaluated in the given order.
func New(rules ...Rule) *Router {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	slog.Debug("Router created", "rules", len(cp))
	return &Router{rules: cp}
}

// Route returns the first rule matching the event.
func (r *Router) Route(ev models.Event, convo *conversation.Context) (Rule, error) {
	for _, rule := range r.rules {
		if rule.Matches(ev, convo) {
			slog.Debug("Router Route matched", "label", rule.Label, "intent", ev.Intent, "state", convo.State().String())
			return rule, nil
		}
	}
	return Rule{}, fmt.Errorf("%w: intent=%q state=%s", ErrNoRoute, ev.Intent, convo.State())
}

// Labels returns the rule labels in evaluation order.
func (r *Router) Labels() []string {
	labels := make([]string, len(r.rules))
	for i, rule := range r.rules {
		labels[i] = rule.Label
	}
	return labels
}
