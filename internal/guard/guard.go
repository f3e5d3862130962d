// Package guard screens inbound traffic before it can touch session
// state: envelope validation, content sanitizing and per-sender rate
// limiting.
package guard

import (
	"fmt"
	"strings"
)

const (
	MaxMessageLen = 500
	MaxChannelIdx = 7
	MaxThemeLen   = 50
)

// SanitizeMessage strips NUL bytes and caps content at MaxMessageLen
// characters.
func SanitizeMessage(content string) string {
	content = strings.ReplaceAll(content, "\x00", "")

	runes := []rune(content)
	if len(runes) > MaxMessageLen {
		content = string(runes[:MaxMessageLen])
	}

	return content
}

// ValidateInbound checks a mesh message envelope. A failure here means
// the request never reaches the interpreter and no session is touched.
func ValidateInbound(sender string, channel int, content string) error {
	if strings.TrimSpace(sender) == "" {
		return fmt.Errorf("sender required")
	}

	if channel < 0 || channel > MaxChannelIdx {
		return fmt.Errorf("channel index %d out of range 0-%d", channel, MaxChannelIdx)
	}

	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty message")
	}

	return nil
}

// SanitizeTheme lowercases theme input and filters it to the
// characters theme names are built from.
func SanitizeTheme(theme string) string {
	theme = strings.ToLower(theme)

	var b strings.Builder
	for _, c := range theme {
		if (c >= 'a' && c <= 'z') || c == '_' {
			b.WriteRune(c)
		}
	}

	out := b.String()
	if len(out) > MaxThemeLen {
		out = out[:MaxThemeLen]
	}

	return out
}
