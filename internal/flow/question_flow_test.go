package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/BTreeMap/AskForHelp/internal/taskservice"
)

func TestRulesOrder(t *testing.T) {
	env := newTestEnv(t)
	labels := env.bot.Router().Labels()
	want := []string{"start", "help", "info", "cancel", "question", "question_first", "question_1"}
	for i, l := range want {
		if labels[i] != l {
			t.Fatalf("rule %d = %q, want %q (all: %v)", i, labels[i], l, labels)
		}
	}
	if last := labels[len(labels)-1]; last != "button" {
		t.Errorf("last rule = %q, want the button catch-all", last)
	}
}

func TestHandleTurnRequiresLogin(t *testing.T) {
	env := newTestEnv(t)
	out := env.text(t, conversation.New(), "/question")
	want := "login_first{url=" + testAuthURL + "/login?client_id=" + testAppID + "&external_id=" + testChatUser + "}"
	if got := texts(out); len(got) != 1 || got[0] != want {
		t.Errorf("texts = %v, want [%s]", got, want)
	}
}

func TestHandleTurnFallsBackToErrorText(t *testing.T) {
	env := newTestEnv(t)
	out := env.text(t, loggedIn(), "hello there")
	if got := texts(out); len(got) != 1 || got[0] != "error_text" {
		t.Errorf("texts = %v", got)
	}
}

func TestStartAndHelp(t *testing.T) {
	env := newTestEnv(t)
	out := env.text(t, loggedIn(), "/start")
	want := []string{"start_text_1", "start_text_2", "badges_promo{app_id=" + testAppID + ",base_url=" + testHubURL + "}", "info_text"}
	got := texts(out)
	if len(got) != len(want) {
		t.Fatalf("texts = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, got[i], want[i])
		}
	}
	opts := lastOptions(t, out)
	if len(opts) != 1 || opts[0].Intent != IntentQuestionFirst || opts[0].Label != "start_button" {
		t.Errorf("start options = %+v", opts)
	}

	for _, cmd := range []string{"/help", "/INFO"} {
		if got := texts(env.text(t, loggedIn(), cmd)); len(got) != 1 || got[0] != "info_text" {
			t.Errorf("%s texts = %v", cmd, got)
		}
	}
}

func TestCancelClearsFlowKeys(t *testing.T) {
	env := newTestEnv(t)
	convo := loggedIn()
	convo.SetState(conversation.StateQuestion3)
	convo.Set(conversation.KeyAskedQuestion, "q")
	out := env.text(t, convo, "/cancel")
	if got := texts(out); got[0] != "cancel_text" {
		t.Errorf("texts = %v", got)
	}
	if convo.InActiveFlow() || convo.Has(conversation.KeyAskedQuestion) {
		t.Errorf("flow keys left: %v", convo.Keys())
	}
	if !convo.Has(conversation.KeyWenetUserID) {
		t.Error("cancel must keep the account link")
	}
}

func TestQuestionFlowScenario(t *testing.T) {
	env := newTestEnv(t)
	convo := loggedIn()

	out := env.text(t, convo, "/question")
	if got := texts(out); len(got) != 1 || got[0] != "question_1" {
		t.Fatalf("/question texts = %v", got)
	}
	out = env.text(t, convo, testQuestion)
	if convo.State() != conversation.StateQuestion2 || len(lastOptions(t, out)) != 3 {
		t.Fatalf("after question: state=%s options=%+v", convo.State(), lastOptions(t, out))
	}
	env.action(t, convo, IntentAskToAnyone)
	if convo.State() != conversation.StateQuestion3 {
		t.Fatalf("state = %s", convo.State())
	}
	env.text(t, convo, "I need quick local help")
	env.action(t, convo, IntentNotSensitive)
	if convo.State() != conversation.StateQuestion5 {
		t.Fatalf("state = %s", convo.State())
	}
	out = env.action(t, convo, IntentAnywhere)
	if got := texts(out); len(got) != 1 || got[0] != "question_final" {
		t.Errorf("final texts = %v", got)
	}

	if len(env.tasks.Created) != 1 {
		t.Fatalf("created %d tasks, want 1", len(env.tasks.Created))
	}
	task := env.tasks.Created[0]
	if task.Goal.Name != testQuestion || task.RequesterID != testHubUser || task.AppID != testAppID || task.TypeID != testTaskType {
		t.Errorf("unexpected task: %+v", task)
	}
	wantAttrs := map[string]any{
		models.AttrKindOfAnswerer:     IntentAskToAnyone,
		models.AttrAnsweredDetails:    "I need quick local help",
		models.AttrSensitive:          false,
		models.AttrAnonymous:          false,
		models.AttrPositionOfAnswerer: IntentAnywhere,
	}
	for k, v := range wantAttrs {
		if task.Attributes[k] != v {
			t.Errorf("attribute %s = %v, want %v", k, task.Attributes[k], v)
		}
	}
	if convo.State() != conversation.StateIdle {
		t.Errorf("context should end idle, state = %s", convo.State())
	}
	if keys := convo.Keys(); len(keys) != 1 || keys[0] != conversation.KeyWenetUserID {
		t.Errorf("keys left = %v", keys)
	}
}

func TestSensitiveAnonymousQuestion(t *testing.T) {
	env := newTestEnv(t)
	convo := loggedIn()
	out := env.text(t, convo, "/question_first")
	if got := texts(out); len(got) != 2 || got[0] != "question_0" {
		t.Errorf("/question_first texts = %v", got)
	}
	env.text(t, convo, "Is this rash serious?")
	env.action(t, convo, IntentAskToSimilar)
	env.text(t, convo, "someone who studied medicine")
	env.action(t, convo, IntentSensitive)
	if convo.State() != conversation.StateQuestion41 {
		t.Fatalf("state = %s", convo.State())
	}
	env.action(t, convo, IntentAnonymous)
	env.action(t, convo, IntentNearby)

	task := env.tasks.Created[0]
	if task.Attributes[models.AttrSensitive] != true || task.Attributes[models.AttrAnonymous] != true ||
		task.Attributes[models.AttrPositionOfAnswerer] != IntentNearby {
		t.Errorf("attributes = %v", task.Attributes)
	}
}

func TestQuestionFlowCleanupOnFailure(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want string
	}{
		{"server error", &taskservice.APIError{Op: "CreateTask", StatusCode: 500}, "error_task_creation"},
		{"auth expired", &taskservice.APIError{Op: "CreateTask", StatusCode: 401}, "login_required{url=" + testAuthURL + "/login?client_id=" + testAppID + "&external_id=" + testChatUser + "}"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			convo := loggedIn()
			convo.SetState(conversation.StateQuestion5)
			convo.Set(conversation.KeyAskedQuestion, "q")
			convo.Set(conversation.KeyDesiredAnswerer, IntentAskToAnyone)
			convo.Set(conversation.KeyDesiredAnswererReason, "r")
			convo.Set(conversation.KeySensitiveQuestion, IntentSensitive)
			convo.Set(conversation.KeyAnonymousQuestion, IntentNotAnonymous)
			env.tasks.Err = tc.err

			out := env.action(t, convo, IntentAnywhere)
			if got := texts(out); len(got) != 1 || got[0] != tc.want {
				t.Errorf("texts = %v, want %s", got, tc.want)
			}
			for _, k := range questionFlowKeys {
				if convo.Has(k) {
					t.Errorf("key %s left after failure", k)
				}
			}
		})
	}
}

func TestQuestionFinalMissingKeyIsFatal(t *testing.T) {
	env := newTestEnv(t)
	convo := loggedIn()
	convo.SetState(conversation.StateQuestion5)
	convo.Set(conversation.KeyDesiredAnswerer, IntentAskToAnyone)

	out, err := env.bot.HandleTurn(context.Background(), models.NewActionEvent("m", testChatUser, IntentNearby), convo)
	if !errors.Is(err, conversation.ErrMissingContextKey) {
		t.Fatalf("expected ErrMissingContextKey, got %v", err)
	}
	if got := texts(out); len(got) != 1 || got[0] != "error_text" {
		t.Errorf("texts = %v", got)
	}
	if len(env.tasks.Created) != 0 {
		t.Error("no task must be created")
	}
}

func TestQuestionStepsRejectNonText(t *testing.T) {
	env := newTestEnv(t)
	convo := loggedIn()
	convo.SetState(conversation.StateQuestion1)
	out := env.action(t, convo, "sticker")
	if got := texts(out); got[0] != "question_is_not_text" || convo.State() != conversation.StateQuestion1 {
		t.Errorf("texts = %v state = %s", got, convo.State())
	}

	convo.SetState(conversation.StateQuestion3)
	out = env.action(t, convo, "sticker")
	if got := texts(out); got[0] != "answerer_details_are_not_text" || convo.State() != conversation.StateQuestion3 {
		t.Errorf("texts = %v state = %s", got, convo.State())
	}
}

func TestCommandsWinOverStateRules(t *testing.T) {
	env := newTestEnv(t)
	convo := loggedIn()
	convo.SetState(conversation.StateQuestion1)
	out := env.text(t, convo, "/help")
	if got := texts(out); got[0] != "info_text" {
		t.Errorf("/help in question_1 = %v", got)
	}
	if convo.State() != conversation.StateQuestion1 {
		t.Errorf("state changed to %s", convo.State())
	}
}

func TestUnexpectedChoiceInQuestion2(t *testing.T) {
	env := newTestEnv(t)
	convo := loggedIn()
	convo.SetState(conversation.StateQuestion2)
	out := env.text(t, convo, "whatever")
	if got := texts(out); got[0] != "error_text" || convo.State() != conversation.StateQuestion2 {
		t.Errorf("texts = %v state = %s", got, convo.State())
	}
}
