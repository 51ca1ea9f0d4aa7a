package flow

import "strings"

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
)

// EscapeMarkdown escapes the formatting characters of user-provided text so
// it renders literally inside formatted messages.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
