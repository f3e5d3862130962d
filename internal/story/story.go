// Package story holds the narrative building blocks: the theme catalog,
// the wire shape of a story beat, prompt assembly for the narrator and
// the deterministic offline beats used when no backend is reachable.
package story

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxChoices caps how many options a beat may present.
const MaxChoices = 5

// EndMarker closes a story. A beat whose text carries it is terminal.
const EndMarker = "THE END"

const (
	EventNarrative = "narrative"
	EventChoice    = "choice"
)

// Event is one entry of a session's narrative context: either a beat
// the narrator produced or a choice a player made. Sender is set on
// choice events in collaborative channels so the story can attribute
// the move.
type Event struct {
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	Sender string `json:"sender,omitempty"`
}

// Beat is one generated story unit. A terminal beat has no choices.
type Beat struct {
	Text    string
	Choices []string
}

func (b Beat) Terminal() bool {
	return len(b.Choices) == 0
}

// Format renders a beat the way it goes out to players: narrative text,
// then the numbered options on one line.
func Format(b Beat) string {
	if len(b.Choices) == 0 {
		return b.Text
	}

	parts := make([]string, len(b.Choices))
	for i, c := range b.Choices {
		parts[i] = fmt.Sprintf("%d:%s", i+1, c)
	}

	return b.Text + "\n" + strings.Join(parts, " ")
}

var (
	choiceMarker = regexp.MustCompile(`(?:^|[\s\n])([0-9])\s*:`)
	endMarker    = regexp.MustCompile(`(?i)\bTHE END\b`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// ParseBeat reads backend output in the Format shape back into a Beat.
// Output that cannot be read as a beat is an error, never passed
// through to players: missing narrative, missing choices on a
// non-terminal beat, numbering that does not run 1..K, empty labels.
func ParseBeat(raw string) (Beat, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Beat{}, fmt.Errorf("empty narrative")
	}

	if endMarker.MatchString(text) {
		return Beat{Text: collapse(text)}, nil
	}

	locs := choiceMarker.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return Beat{}, fmt.Errorf("no choices and no end marker")
	}
	if len(locs) > MaxChoices {
		return Beat{}, fmt.Errorf("too many choices: %d", len(locs))
	}

	for i, loc := range locs {
		if text[loc[2]:loc[3]] != strconv.Itoa(i+1) {
			return Beat{}, fmt.Errorf("choice numbering broken: got %q at position %d", text[loc[2]:loc[3]], i+1)
		}
	}

	narrative := strings.TrimSpace(text[:locs[0][0]])
	if narrative == "" {
		return Beat{}, fmt.Errorf("narrative missing before choices")
	}

	choices := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}

		label := collapse(strings.TrimSpace(text[loc[1]:end]))
		if label == "" {
			return Beat{}, fmt.Errorf("empty label for choice %d", i+1)
		}
		choices = append(choices, label)
	}

	return Beat{Text: collapse(narrative), Choices: choices}, nil
}

func collapse(s string) string {
	return spaceRun.ReplaceAllString(s, " ")
}
