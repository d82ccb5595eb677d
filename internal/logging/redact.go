package logging

import "strings"

// ObfuscateSecret redacts API keys and credentials for display and logging.
// Short secrets become all asterisks; longer ones keep just enough of the
// head and tail to be recognizable.
func ObfuscateSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	if len(s) <= 12 {
		return s[:2] + strings.Repeat("*", len(s)-2)
	}
	return s[:4] + "..." + s[len(s)-4:]
}
