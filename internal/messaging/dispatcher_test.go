package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/AskForHelp/internal/conversation"
	"github.com/BTreeMap/AskForHelp/internal/models"
	"github.com/BTreeMap/AskForHelp/internal/router"
	"github.com/BTreeMap/AskForHelp/internal/whatsapp"
)

const testUser = "15551234567"

// scriptedBot records the events it sees and replies with a fixed script.
type scriptedBot struct {
	mu     sync.Mutex
	events []models.Event
	reply  func(ev models.Event, convo *conversation.Context) (router.Reply, error)
}

func (b *scriptedBot) HandleTurn(_ context.Context, ev models.Event, convo *conversation.Context) (router.Reply, error) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return b.reply(ev, convo)
}

func (b *scriptedBot) seen() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Event(nil), b.events...)
}

type memoryDedup struct {
	mu        sync.Mutex
	seen      map[string]bool
	processed map[string]bool
}

func newMemoryDedup() *memoryDedup {
	return &memoryDedup{seen: map[string]bool{}, processed: map[string]bool{}}
}

func (m *memoryDedup) IsDuplicate(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[id], nil
}

func (m *memoryDedup) RecordInbound(_ context.Context, id, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *memoryDedup) MarkProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[id] = true
	return nil
}

type dispatcherEnv struct {
	client   *whatsapp.MockClient
	contexts *conversation.MemoryStore
	bot      *scriptedBot
	d        *Dispatcher
}

func newDispatcherEnv(reply func(models.Event, *conversation.Context) (router.Reply, error), opts ...DispatcherOption) *dispatcherEnv {
	client := whatsapp.NewMockClient()
	contexts := conversation.NewMemoryStore()
	bot := &scriptedBot{reply: reply}
	return &dispatcherEnv{
		client:   client,
		contexts: contexts,
		bot:      bot,
		d:        NewDispatcher(NewWhatsAppService(client), contexts, bot, opts...),
	}
}

func (e *dispatcherEnv) stored(t *testing.T) *conversation.Context {
	t.Helper()
	convo, err := e.contexts.LoadContext(context.Background(), testUser)
	if err != nil {
		t.Fatalf("LoadContext failed: %v", err)
	}
	return convo
}

func reminderOptions() []models.Option {
	return []models.Option{{Label: "Answer", Intent: "answer"}, {Label: "Later", Intent: "later"}}
}

func TestDispatcherSavesThenSends(t *testing.T) {
	env := newDispatcherEnv(func(ev models.Event, convo *conversation.Context) (router.Reply, error) {
		convo.Set("seen", ev.Text)
		return router.Reply{
			Messages: []models.Message{models.TextMessage("one"), models.TextMessage("pick", reminderOptions()...)},
			Context:  convo,
		}, nil
	})

	err := env.d.HandleResponse(context.Background(), models.Response{ID: "m1", From: "+1 555 123 4567", Body: "hello"})
	if err != nil {
		t.Fatalf("HandleResponse failed: %v", err)
	}
	sent := env.client.Sent()
	if len(sent) != 2 || sent[0].Body != "one" || sent[1].Body != "pick\n\n1. Answer\n2. Later" {
		t.Errorf("sent = %+v", sent)
	}
	if sent[0].To != testUser {
		t.Errorf("recipient = %q", sent[0].To)
	}
	convo := env.stored(t)
	if convo.StringOr("seen", "") != "hello" {
		t.Error("context was not saved")
	}
	var offered []models.Option
	if ok, err := convo.Decode(conversation.KeyOfferedOptions, &offered); !ok || err != nil || len(offered) != 2 {
		t.Errorf("offered options = %v (%v)", offered, err)
	}
}

func TestDispatcherMapsRepliesToOfferedOptions(t *testing.T) {
	env := newDispatcherEnv(func(_ models.Event, convo *conversation.Context) (router.Reply, error) {
		return router.Reply{Messages: []models.Message{models.TextMessage("ok")}, Context: convo}, nil
	})
	ctx := context.Background()

	tests := []struct {
		body   string
		kind   models.EventKind
		intent string
	}{
		{"2", models.EventKindAction, "later"},
		{" answer ", models.EventKindAction, "answer"},
		{"3", models.EventKindText, ""},
		{"something else", models.EventKindText, ""},
	}
	for i, tt := range tests {
		convo := conversation.New()
		convo.Set(conversation.KeyOfferedOptions, reminderOptions())
		if err := env.contexts.SaveContext(ctx, testUser, convo); err != nil {
			t.Fatalf("SaveContext failed: %v", err)
		}
		if err := env.d.HandleResponse(ctx, models.Response{From: testUser, Body: tt.body}); err != nil {
			t.Fatalf("HandleResponse failed: %v", err)
		}
		ev := env.bot.seen()[i]
		if ev.Kind != tt.kind || ev.Intent != tt.intent {
			t.Errorf("%q: event = %+v", tt.body, ev)
		}
	}
	if env.stored(t).Has(conversation.KeyOfferedOptions) {
		t.Error("a reply without options must clear the offered options")
	}
}

func TestDispatcherFailedTurnSendsWithoutSaving(t *testing.T) {
	boom := errors.New("boom")
	env := newDispatcherEnv(func(_ models.Event, convo *conversation.Context) (router.Reply, error) {
		convo.Set("dirty", true)
		return router.Reply{Messages: []models.Message{models.TextMessage("error_text")}, Context: convo}, boom
	})

	err := env.d.HandleResponse(context.Background(), models.Response{From: testUser, Body: "hi"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the turn error, got %v", err)
	}
	if sent := env.client.Sent(); len(sent) != 1 || sent[0].Body != "error_text" {
		t.Errorf("sent = %+v", sent)
	}
	if env.stored(t).Has("dirty") {
		t.Error("a failed turn must not be saved")
	}
}

func TestDispatcherDropsDuplicates(t *testing.T) {
	dedup := newMemoryDedup()
	env := newDispatcherEnv(func(_ models.Event, convo *conversation.Context) (router.Reply, error) {
		return router.Reply{Messages: []models.Message{models.TextMessage("ok")}, Context: convo}, nil
	}, WithDedup(dedup))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.d.HandleResponse(ctx, models.Response{ID: "wamid-1", From: testUser, Body: "hi"}); err != nil {
			t.Fatalf("HandleResponse failed: %v", err)
		}
	}
	if n := len(env.bot.seen()); n != 1 {
		t.Errorf("handled %d times, want 1", n)
	}
	if !dedup.processed["wamid-1"] {
		t.Error("message not marked processed")
	}
}

func TestDispatcherRejectsInvalidSender(t *testing.T) {
	env := newDispatcherEnv(func(_ models.Event, convo *conversation.Context) (router.Reply, error) {
		return router.Reply{Context: convo}, nil
	})
	if err := env.d.HandleResponse(context.Background(), models.Response{From: "abc", Body: "hi"}); err == nil {
		t.Error("expected an error")
	}
	if len(env.bot.seen()) != 0 {
		t.Error("the bot must not see invalid senders")
	}
}

func TestRunTurnWithoutContextDoesNotSave(t *testing.T) {
	env := newDispatcherEnv(nil)
	ctx := context.Background()
	err := env.d.RunTurn(ctx, testUser, func(_ context.Context, convo *conversation.Context) (router.Reply, error) {
		convo.Set("dirty", true)
		return router.Reply{Messages: []models.Message{models.ImageMessage("https://img.example.org/b.png")}}, nil
	})
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if env.stored(t).Has("dirty") {
		t.Error("a reply without context must not be saved")
	}
	if sent := env.client.Sent(); len(sent) != 1 || sent[0].Body != "https://img.example.org/b.png" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestRunTurnReportsSendErrors(t *testing.T) {
	env := newDispatcherEnv(nil)
	env.client.Err = errors.New("offline")
	err := env.d.RunTurn(context.Background(), testUser, func(_ context.Context, convo *conversation.Context) (router.Reply, error) {
		convo.Set("saved", true)
		return router.Reply{Messages: []models.Message{models.TextMessage("x")}, Context: convo}, nil
	})
	if err == nil {
		t.Fatal("expected the send error")
	}
	if !env.stored(t).Has("saved") {
		t.Error("the context is saved before sending")
	}
}

func TestRunTurnSerializesPerUser(t *testing.T) {
	env := newDispatcherEnv(nil)
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = env.d.RunTurn(context.Background(), testUser, func(_ context.Context, convo *conversation.Context) (router.Reply, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				count, _ := convo.Get("count")
				c, _ := count.(float64)
				convo.Set("count", c+1)
				atomic.AddInt32(&active, -1)
				return router.Reply{Context: convo}, nil
			})
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
	if got, _ := env.stored(t).Get("count"); got != float64(8) {
		t.Errorf("count = %v, want 8", got)
	}
	if n := env.d.locks.size(); n != 0 {
		t.Errorf("%d user locks leaked", n)
	}
}

func TestDispatcherStartProcessesResponses(t *testing.T) {
	env := newDispatcherEnv(func(_ models.Event, convo *conversation.Context) (router.Reply, error) {
		return router.Reply{Messages: []models.Message{models.TextMessage("pong")}, Context: convo}, nil
	})
	svc := env.d.svc.(*WhatsAppService)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.d.Start(ctx)

	svc.emitResponse(models.Response{ID: "m1", From: testUser, Body: "ping"})
	deadline := time.Now().Add(2 * time.Second)
	for len(env.client.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	env.d.Wait()
	if sent := env.client.Sent(); len(sent) != 1 || sent[0].Body != "pong" {
		t.Errorf("sent = %+v", sent)
	}
}
