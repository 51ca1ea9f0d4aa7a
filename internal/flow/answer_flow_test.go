package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
)

func TestSensitiveAnswerScenario(t *testing.T) {
	env := newTestEnv(t)
	env.link(t)
	env.addTask(testTaskID, map[string]any{models.AttrSensitive: true, models.AttrPositionOfAnswerer: "anywhere"})

	offer := env.pushQuestion(t, testTaskID)
	wantText := "answer_sensitive_message_0{question=" + testQuestion + ",user=Ada}"
	if offer.Text != wantText {
		t.Errorf("offer text = %q, want %q", offer.Text, wantText)
	}
	if len(offer.Options) != 4 {
		t.Fatalf("offer has %d options, want 4", len(offer.Options))
	}

	convo := env.stored(t)
	out := env.action(t, convo, offer.Options[0].Intent)
	if got := texts(out); len(got) != 2 || got[0] != "answer_sensitive_question" || got[1] != "question_0" {
		t.Errorf("answer click texts = %v", got)
	}
	if convo.State() != conversation.StateAnsweringSensitive {
		t.Fatalf("state = %s", convo.State())
	}

	out = env.text(t, convo, "Go to Main St")
	if convo.State() != conversation.StateAnsweringAnonymously || len(lastOptions(t, out)) != 2 {
		t.Fatalf("state = %s options = %+v", convo.State(), lastOptions(t, out))
	}
	if len(env.tasks.Transactions) != 0 {
		t.Fatal("nothing must be posted before the anonymity choice")
	}

	out = env.action(t, convo, IntentAnswerAnonymously)
	if got := texts(out); got[0] != "answered_message_anonymously" {
		t.Errorf("texts = %v", got)
	}
	if len(env.tasks.Transactions) != 1 {
		t.Fatalf("posted %d transactions, want 1", len(env.tasks.Transactions))
	}
	tr := env.tasks.Transactions[0]
	if tr.Label != models.LabelAnswerTransaction || tr.TaskID != testTaskID || tr.ActioneerID != testHubUser {
		t.Errorf("unexpected transaction: %+v", tr)
	}
	if tr.Attributes["answer"] != "Go to Main St" || tr.Attributes["anonymous"] != true {
		t.Errorf("attributes = %v", tr.Attributes)
	}
	for _, k := range answerFlowKeys {
		if convo.Has(k) {
			t.Errorf("key %s left after answering", k)
		}
	}
}

func TestPlainAnswerIsPostedDirectly(t *testing.T) {
	env := newTestEnv(t)
	env.link(t)
	env.addTask(testTaskID, map[string]any{models.AttrPositionOfAnswerer: models.PositionNearby})

	offer := env.pushQuestion(t, testTaskID)
	if !strings.HasPrefix(offer.Text, "answer_message_nearby{") || len(offer.Options) != 3 {
		t.Fatalf("nearby offer = %q with %d options", offer.Text, len(offer.Options))
	}
	convo := env.stored(t)
	out := env.action(t, convo, offer.Options[0].Intent)
	if got := texts(out); got[0] != "answer_question" || convo.State() != conversation.StateAnswering {
		t.Fatalf("texts = %v state = %s", got, convo.State())
	}

	out = env.action(t, convo, "sticker")
	if got := texts(out); got[0] != "answerer_is_not_text" || convo.State() != conversation.StateAnswering {
		t.Errorf("non-text answer: texts = %v state = %s", got, convo.State())
	}

	out = env.text(t, convo, "Second street")
	if got := texts(out); got[0] != "answered_message" {
		t.Errorf("texts = %v", got)
	}
	tr, ok := env.tasks.LastTransaction()
	if !ok || tr.Attributes["anonymous"] != false || tr.Attributes["answer"] != "Second street" {
		t.Errorf("transaction = %+v", tr)
	}
	if convo.InActiveFlow() {
		t.Errorf("state = %s after answering", convo.State())
	}
}

func TestButtonGroupIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.link(t)
	env.addTask(testTaskID, map[string]any{models.AttrPositionOfAnswerer: models.PositionNearby})

	offer := env.pushQuestion(t, testTaskID)
	convo := env.stored(t)

	out := env.action(t, convo, offer.Options[1].Intent)
	if got := texts(out); len(got) != 1 || got[0] != "not_answer_response" {
		t.Fatalf("first click texts = %v", got)
	}
	tr, _ := env.tasks.LastTransaction()
	if tr.Label != models.LabelNotAnswerTransaction {
		t.Errorf("label = %s", tr.Label)
	}

	out = env.action(t, convo, offer.Options[0].Intent)
	if got := texts(out); len(got) != 1 || got[0] != "expired_button_message" {
		t.Errorf("second click texts = %v", got)
	}
	if convo.InActiveFlow() {
		t.Error("expired click must not start the answer flow")
	}
	if len(env.tasks.Transactions) != 1 {
		t.Errorf("transactions = %d, want 1", len(env.tasks.Transactions))
	}
	// Only the cached locale of the hub user remains.
	if n := env.backend.Len(); n != 1 {
		t.Errorf("cache holds %d entries, want 1", n)
	}
}

func TestConductReminder(t *testing.T) {
	payload := models.NewButtonPayload(map[string]any{models.PayloadTaskID: testTaskID}, IntentAnswerQuestion)

	for _, tc := range []struct {
		name        string
		probability float64
		answered    bool
		want        int
	}{
		{"first answer always shows it", 0, false, 2},
		{"never after the first", 0, true, 1},
		{"always when probability is one", 1, true, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, WithConductProbability(tc.probability))
			ctx := context.Background()
			if tc.answered {
				env.bot.isFirstAnswer(ctx, testHubUser)
			}
			out, err := env.bot.actionAnswerQuestion(ctx, loggedIn(), payload)
			if err != nil {
				t.Fatalf("actionAnswerQuestion failed: %v", err)
			}
			if len(out.Messages) != tc.want {
				t.Errorf("got %v, want %d messages", texts(out), tc.want)
			}
		})
	}
}

func TestFirstAnswerFlagIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if !env.bot.isFirstAnswer(ctx, testHubUser) {
		t.Fatal("expected first answer")
	}
	if env.bot.isFirstAnswer(ctx, testHubUser) {
		t.Error("flag must be remembered")
	}
	if !env.bot.isFirstAnswer(ctx, testAnswerer) {
		t.Error("flag is per user")
	}
}

func TestAnswerStepsRequireTask(t *testing.T) {
	env := newTestEnv(t)
	for _, state := range []conversation.State{conversation.StateAnswering, conversation.StateAnsweringSensitive} {
		convo := loggedIn()
		convo.SetState(state)
		out, err := env.bot.HandleTurn(context.Background(), models.NewTextEvent("m", testChatUser, "an answer"), convo)
		if !errors.Is(err, conversation.ErrMissingContextKey) {
			t.Errorf("%s: expected ErrMissingContextKey, got %v", state, err)
		}
		if out.Context != nil {
			t.Errorf("%s: failed turns must not return a context to save", state)
		}
	}
}

func TestAnswerAnonymouslyRequiresStoredAnswer(t *testing.T) {
	env := newTestEnv(t)
	convo := loggedIn()
	convo.SetState(conversation.StateAnsweringAnonymously)
	convo.Set(conversation.KeyQuestionToAnswer, testTaskID)
	_, err := env.bot.HandleTurn(context.Background(), models.NewActionEvent("m", testChatUser, IntentAnswerNotAnonymously), convo)
	if !errors.Is(err, conversation.ErrMissingContextKey) {
		t.Errorf("expected ErrMissingContextKey, got %v", err)
	}
	if len(env.tasks.Transactions) != 0 {
		t.Error("nothing must be posted")
	}
}

func TestBrowseOpenQuestions(t *testing.T) {
	env := newTestEnv(t)
	env.tasks.Tasks["own"] = models.Task{ID: "own", AppID: testAppID, RequesterID: testHubUser, Goal: models.TaskGoal{Name: "mine"}}
	env.tasks.Tasks["done"] = models.Task{
		ID: "done", AppID: testAppID, RequesterID: testAsker, Goal: models.TaskGoal{Name: "answered"},
		Transactions: []models.TaskTransaction{{Label: models.LabelAnswerTransaction, ActioneerID: testHubUser}},
	}
	env.tasks.Tasks["other-app"] = models.Task{ID: "other-app", AppID: "app-2", RequesterID: testAsker}
	env.tasks.Tasks[testTaskID] = models.Task{
		ID: testTaskID, AppID: testAppID, RequesterID: testAsker, Goal: models.TaskGoal{Name: "Any *vet* open?"},
		Attributes: map[string]any{models.AttrSensitive: true, models.AttrAnonymous: true},
	}

	convo := loggedIn()
	out := env.text(t, convo, "/answer")
	if len(out.Messages) != 1 {
		t.Fatalf("texts = %v", texts(out))
	}
	lines := strings.Split(out.Messages[0].Text, "\n")
	want := []string{"answers_tasks_intro", `#1: *Any \*vet\* open?* - Anonymous - sensitive`, "answers_tasks_choose"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	opts := lastOptions(t, out)
	if len(opts) != 1 || opts[0].Label != "#1" {
		t.Fatalf("options = %+v", opts)
	}
	if !convo.Has(conversation.KeyProposedTasks) {
		t.Error("proposed_tasks not recorded")
	}

	out = env.action(t, convo, opts[0].Intent)
	wantPick := `you_are_answering_to_sensitive{question=Any \*vet\* open?}`
	if got := texts(out); got[0] != wantPick || got[1] != "question_0" {
		t.Errorf("pick texts = %v", got)
	}
	if convo.State() != conversation.StateAnsweringSensitive || convo.StringOr(conversation.KeyQuestionToAnswer, "") != testTaskID {
		t.Errorf("state = %s task = %s", convo.State(), convo.StringOr(conversation.KeyQuestionToAnswer, ""))
	}
	if convo.Has(conversation.KeyProposedTasks) {
		t.Error("proposed_tasks must be dropped once a task is picked")
	}
}

func TestBrowseSamplesThreeTasks(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		env.addTask(id, nil)
	}
	convo := loggedIn()
	out := env.text(t, convo, "/answer")
	if n := len(lastOptions(t, out)); n != maxProposedTasks {
		t.Errorf("options = %d, want %d", n, maxProposedTasks)
	}
	var proposed []string
	if _, err := convo.Decode(conversation.KeyProposedTasks, &proposed); err != nil || len(proposed) != maxProposedTasks {
		t.Errorf("proposed = %v (%v)", proposed, err)
	}
}

func TestBrowseWithoutTasks(t *testing.T) {
	env := newTestEnv(t)
	env.tasks.Tasks["own"] = models.Task{ID: "own", AppID: testAppID, RequesterID: testHubUser}
	out := env.text(t, loggedIn(), "/answer")
	if got := texts(out); len(got) != 1 || got[0] != "answers_no_tasks" {
		t.Errorf("texts = %v", got)
	}
}

func TestBrowseSkipsMissingAskers(t *testing.T) {
	env := newTestEnv(t)
	env.tasks.Tasks["ghost"] = models.Task{ID: "ghost", AppID: testAppID, RequesterID: "hub-unknown"}
	out := env.text(t, loggedIn(), "/answer")
	if got := texts(out); len(got) != 1 || got[0] != "answers_no_tasks" {
		t.Errorf("texts = %v", got)
	}
}
