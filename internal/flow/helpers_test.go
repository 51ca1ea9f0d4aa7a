package flow

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AskForHelp/internal/cache"
	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/BTreeMap/AskForHelp/internal/router"
	"github.com/BTreeMap/AskForHelp/internal/taskservice"
)

// keyTranslator renders "key" or "key{a=1,b=2}" so tests can assert on keys.
type keyTranslator struct{}

func (keyTranslator) Translate(key, _ string, subs map[string]string) string {
	if len(subs) == 0 {
		return key
	}
	names := make([]string, 0, len(subs))
	for n := range subs {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + "=" + subs[n]
	}
	return key + "{" + strings.Join(parts, ",") + "}"
}

// memoryTurns is a TurnRunner over a MemoryStore that records what it sends.
type memoryTurns struct {
	mu    sync.Mutex
	store *conversation.MemoryStore
	sent  map[string][]models.Message
}

func newMemoryTurns(s *conversation.MemoryStore) *memoryTurns {
	return &memoryTurns{store: s, sent: make(map[string][]models.Message)}
}

func (m *memoryTurns) RunTurn(ctx context.Context, userID string, fn TurnFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	convo, err := m.store.LoadContext(ctx, userID)
	if err != nil {
		return err
	}
	out, err := fn(ctx, convo)
	if err != nil {
		return err
	}
	if out.Context != nil {
		if err := m.store.SaveContext(ctx, userID, out.Context); err != nil {
			return err
		}
	}
	m.sent[userID] = append(m.sent[userID], out.Messages...)
	return nil
}

func (m *memoryTurns) Sent(userID string) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.sent[userID]...)
}

type enqueuedJob struct {
	kind, payload, dedupeKey string
	runAt                    time.Time
}

type testEnv struct {
	bot     *Bot
	rec     *Reconciler
	tasks   *taskservice.Mock
	backend *cache.Memory
	cache   *cache.PayloadCache
	store   *conversation.MemoryStore
	turns   *memoryTurns
	jobs    *recordingJobs
}

const (
	testChatUser  = "chat-1"
	testHubUser   = "hub-1"
	testAsker     = "hub-asker"
	testAnswerer  = "hub-answerer"
	testAppID     = "app-1"
	testAuthURL   = "https://auth.example.org"
	testHubURL    = "https://hub.example.org"
	testTaskType  = "type-1"
	testTaskID    = "task-42"
	testQuestion  = "Where is the nearest pharmacy?"
	testTransacID = "tr-7"
)

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		tasks:   taskservice.NewMock(),
		backend: cache.NewMemory(),
		store:   conversation.NewMemoryStore(),
		jobs:    &recordingJobs{},
	}
	env.cache = cache.New(env.backend)
	env.turns = newMemoryTurns(env.store)
	base := []Option{
		WithAppID(testAppID), WithTaskTypeID(testTaskType), WithAuthURL(testAuthURL), WithHubURL(testHubURL),
		WithJobs(env.jobs), WithRand(rand.New(rand.NewPCG(1, 2))),
	}
	env.bot = New(env.tasks, env.cache, keyTranslator{}, append(base, opts...)...)
	env.rec = NewReconciler(env.bot, env.store, env.turns)

	env.tasks.Profiles[testHubUser] = models.UserProfile{ID: testHubUser, Name: models.UserName{First: "Me"}, Locale: "en"}
	env.tasks.Profiles[testAsker] = models.UserProfile{ID: testAsker, Name: models.UserName{First: "Ada"}, Locale: "en"}
	env.tasks.Profiles[testAnswerer] = models.UserProfile{ID: testAnswerer, Name: models.UserName{First: "Bob"}, Locale: "en"}
	return env
}

// loggedIn returns a context linked to the test hub user.
func loggedIn() *conversation.Context {
	c := conversation.New()
	c.Set(conversation.KeyWenetUserID, testHubUser)
	return c
}

func (env *testEnv) text(t *testing.T, convo *conversation.Context, text string) router.Reply {
	t.Helper()
	out, err := env.bot.HandleTurn(context.Background(), models.NewTextEvent("m", testChatUser, text), convo)
	if err != nil {
		t.Fatalf("HandleTurn(%q) failed: %v", text, err)
	}
	return out
}

func (env *testEnv) action(t *testing.T, convo *conversation.Context, intent string) router.Reply {
	t.Helper()
	out, err := env.bot.HandleTurn(context.Background(), models.NewActionEvent("m", testChatUser, intent), convo)
	if err != nil {
		t.Fatalf("HandleTurn(%q) failed: %v", intent, err)
	}
	return out
}

func texts(r router.Reply) []string {
	out := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = m.Text
	}
	return out
}

func lastOptions(t *testing.T, r router.Reply) []models.Option {
	t.Helper()
	if len(r.Messages) == 0 {
		t.Fatal("reply has no messages")
	}
	return r.Messages[len(r.Messages)-1].Options
}

// recordingJobs records enqueued jobs.
type recordingJobs struct {
	mu   sync.Mutex
	jobs []enqueuedJob
}

func (r *recordingJobs) EnqueueJob(_ context.Context, kind string, runAt time.Time, payload, dedupeKey string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, enqueuedJob{kind: kind, payload: payload, dedupeKey: dedupeKey, runAt: runAt})
	return fmt.Sprintf("job-%d", len(r.jobs)), nil
}

// link stores a logged-in context for the test chat user and links it to the hub user.
func (env *testEnv) link(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := env.store.LinkAccount(ctx, testHubUser, testChatUser); err != nil {
		t.Fatalf("LinkAccount failed: %v", err)
	}
	if err := env.store.SaveContext(ctx, testChatUser, loggedIn()); err != nil {
		t.Fatalf("SaveContext failed: %v", err)
	}
}

// addTask registers an open question asked by the test asker.
func (env *testEnv) addTask(id string, attrs map[string]any) models.Task {
	task := models.Task{ID: id, AppID: testAppID, RequesterID: testAsker, Goal: models.TaskGoal{Name: testQuestion}, Attributes: attrs}
	env.tasks.Tasks[id] = task
	return task
}

// pushQuestion delivers a question offer for taskID and returns the rendered offer.
func (env *testEnv) pushQuestion(t *testing.T, taskID string) models.Message {
	t.Helper()
	n, err := env.rec.OnExternalMessage(context.Background(), models.QuestionToAnswerMessage{
		Envelope: models.Envelope{AppID: testAppID, ReceiverID: testHubUser},
		TaskID:   taskID,
		Question: testQuestion,
		UserID:   testAsker,
	})
	if err != nil {
		t.Fatalf("OnExternalMessage failed: %v", err)
	}
	if len(n.Messages) == 0 {
		t.Fatal("no offer delivered")
	}
	return n.Messages[len(n.Messages)-1]
}

// stored loads the persisted context of the test chat user.
func (env *testEnv) stored(t *testing.T) *conversation.Context {
	t.Helper()
	convo, err := env.store.LoadContext(context.Background(), testChatUser)
	if err != nil {
		t.Fatalf("LoadContext failed: %v", err)
	}
	return convo
}
