package messaging

import (
	"testing"

	"github.com/BTreeMap/AskForHelp/internal/models"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		msg  models.Message
		want string
	}{
		{"plain", models.TextMessage("hello"), "hello"},
		{"image", models.ImageMessage("https://img.example.org/b.png"), "https://img.example.org/b.png"},
		{"options", models.TextMessage("Choose", models.Option{Label: "Yes", Intent: "y"}, models.Option{Label: "No", Intent: "n"}), "Choose\n\n1. Yes\n2. No"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.msg); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}
