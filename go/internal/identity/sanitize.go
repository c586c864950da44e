package identity

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.StrictPolicy()

// maxDisplayNameRunes bounds names shown to other players.
const maxDisplayNameRunes = 32

// SanitizeDisplayName strips markup and surrounding whitespace from a name
// that is echoed to other players, and truncates it.
func SanitizeDisplayName(name string) string {
	cleaned := strings.TrimSpace(policy.Sanitize(name))
	if r := []rune(cleaned); len(r) > maxDisplayNameRunes {
		cleaned = strings.TrimSpace(string(r[:maxDisplayNameRunes]))
	}
	return cleaned
}
