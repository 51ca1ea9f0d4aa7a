package messaging

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/AskForHelp/internal/models"
)

// Render turns a bot message into transport text. Options become a numbered
// list; the Dispatcher maps a numeric reply back to the option's intent.
func Render(msg models.Message) string {
	if msg.Kind == models.MessageKindImage {
		return msg.ImageURL
	}
	if !msg.HasOptions() {
		return msg.Text
	}
	var b strings.Builder
	b.WriteString(msg.Text)
	b.WriteString("\n")
	for i, opt := range msg.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Label)
	}
	return b.String()
}
