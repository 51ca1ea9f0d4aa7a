package twiliowhatsapp

import (
	"context"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	if err := mock.SendMessage(ctx, "+12345678", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Body != "Hello Test" || sent[0].To != "+12345678" {
		t.Errorf("unexpected message %+v", sent[0])
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected an error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected an error without a sender number")
	}
}

func TestResolveFromEnvironment(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550001111")
	cfg := Opts{}
	if err := cfg.resolve(); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if cfg.AccountSID != "AC1" || cfg.FromWhats != "whatsapp:+15550001111" {
		t.Errorf("cfg = %+v", cfg)
	}

	cfg = Opts{AccountSID: "AC2", AuthToken: "t2", FromWhats: "whatsapp:+1"}
	if err := cfg.resolve(); err != nil || cfg.AccountSID != "AC2" || cfg.FromWhats != "whatsapp:+1" {
		t.Errorf("explicit options must win: %+v (%v)", cfg, err)
	}
}
