package mailbox

import "strings"

// quoteMarkers introduce quoted history or signatures in common mail
// clients: a quoted-date line ("On Mon, ... wrote:"), a forwarded From:
// header, or a quoted line.
var quoteMarkers = []string{"\nOn ", "\nFrom:", "\n>"}

// CleanBody keeps only the top-level reply text: the prefix before the
// first quote marker, trimmed. This is a heuristic, not a MIME parser; it
// accepts arbitrary text including empty input.
func CleanBody(text string) string {
	for _, marker := range quoteMarkers {
		if i := strings.Index(text, marker); i >= 0 {
			text = text[:i]
		}
	}
	return strings.TrimSpace(text)
}
