// Package command turns raw inbound text into one of a closed set of
// intents. Interpret is total: any input maps to an intent, unknown
// text falls through to FreeText.
package command

import (
	"strconv"
	"strings"
)

type Kind int

const (
	FreeText Kind = iota
	StartAdventure
	NumericChoice
	Reset
	Quit
	Help
	Status
)

func (k Kind) String() string {
	switch k {
	case StartAdventure:
		return "start"
	case NumericChoice:
		return "choice"
	case Reset:
		return "reset"
	case Quit:
		return "quit"
	case Help:
		return "help"
	case Status:
		return "status"
	default:
		return "free_text"
	}
}

// Intent is the parsed form of an inbound message. Theme is set for
// StartAdventure (empty when the sender gave none), Choice for
// NumericChoice (1-based), Text carries the trimmed original for
// FreeText.
type Intent struct {
	Kind   Kind
	Theme  string
	Choice int
	Text   string
}

func Interpret(raw string) Intent {
	text := strings.TrimSpace(raw)
	lower := strings.ToLower(text)

	switch lower {
	case "!reset":
		return Intent{Kind: Reset}
	case "!quit", "!end":
		return Intent{Kind: Quit}
	case "!help", "help":
		return Intent{Kind: Help}
	case "!status":
		return Intent{Kind: Status}
	}

	if theme, ok := parseStart(lower); ok {
		return Intent{Kind: StartAdventure, Theme: theme}
	}

	// a bare positive integer is a choice pick
	if n, err := strconv.Atoi(text); err == nil && n > 0 {
		return Intent{Kind: NumericChoice, Choice: n}
	}

	return Intent{Kind: FreeText, Text: text}
}

func parseStart(lower string) (string, bool) {
	fields := strings.Fields(lower)
	if len(fields) == 0 {
		return "", false
	}

	if fields[0] != "!adv" && fields[0] != "!start" {
		return "", false
	}

	if len(fields) > 1 {
		return fields[1], true
	}

	return "", true
}
