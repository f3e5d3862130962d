package story

import (
	"strings"
	"testing"
)

func TestParseBeatWellFormed(t *testing.T) {
	beat, err := ParseBeat("You find a chest half buried in the sand.\n1:Open it 2:Leave it 3:Kick it")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if beat.Text != "You find a chest half buried in the sand." {
		t.Errorf("unexpected text: %q", beat.Text)
	}

	want := []string{"Open it", "Leave it", "Kick it"}
	if len(beat.Choices) != 3 {
		t.Fatalf("expected 3 choices, got %d", len(beat.Choices))
	}
	for i, w := range want {
		if beat.Choices[i] != w {
			t.Errorf("choice %d = %q, want %q", i+1, beat.Choices[i], w)
		}
	}
}

func TestParseBeatTwoChoices(t *testing.T) {
	beat, err := ParseBeat("The bridge sways in the wind.\n1:Cross 2:Go around")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(beat.Choices) != 2 {
		t.Errorf("expected 2 choices, got %d", len(beat.Choices))
	}
}

func TestParseBeatTerminal(t *testing.T) {
	beat, err := ParseBeat("The dragon bows its head and the kingdom is saved. THE END")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if !beat.Terminal() {
		t.Error("expected terminal beat")
	}
	if !strings.Contains(beat.Text, EndMarker) {
		t.Errorf("terminal text should keep the marker: %q", beat.Text)
	}
}

func TestParseBeatEndMarkerCaseInsensitive(t *testing.T) {
	beat, err := ParseBeat("And so the tale closes. The End")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !beat.Terminal() {
		t.Error("expected terminal beat for lowercase marker")
	}
}

func TestParseBeatMalformed(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   \n  "},
		{"no choices no marker", "You walk deeper into the cave."},
		{"numbering starts at two", "A door appears.\n2:Open 3:Knock"},
		{"numbering gap", "A door appears.\n1:Open 3:Knock"},
		{"no narrative", "1:Open 2:Knock"},
		{"too many choices", "Pick.\n1:a 2:b 3:c 4:d 5:e 6:f"},
	}

	for _, tc := range cases {
		if _, err := ParseBeat(tc.input); err == nil {
			t.Errorf("%s: expected parse error for %q", tc.name, tc.input)
		}
	}
}

func TestParseBeatCollapsesWhitespace(t *testing.T) {
	beat, err := ParseBeat("The hall stretches on,\ntorches guttering.\n1:Run   ahead 2:Wait")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if strings.Contains(beat.Text, "\n") {
		t.Errorf("narrative should be a single line: %q", beat.Text)
	}
	if beat.Choices[0] != "Run ahead" {
		t.Errorf("label whitespace not collapsed: %q", beat.Choices[0])
	}
}

func TestFormatRoundTrip(t *testing.T) {
	beat := Beat{Text: "A fork in the road.", Choices: []string{"Left", "Right"}}

	got := Format(beat)
	if got != "A fork in the road.\n1:Left 2:Right" {
		t.Errorf("unexpected format: %q", got)
	}

	parsed, err := ParseBeat(got)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if parsed.Text != beat.Text || len(parsed.Choices) != 2 {
		t.Errorf("round trip mismatch: %+v", parsed)
	}
}

func TestFormatTerminalIsBareText(t *testing.T) {
	beat := Beat{Text: "It is done. THE END"}
	if got := Format(beat); got != beat.Text {
		t.Errorf("terminal beat should format to its text alone, got %q", got)
	}
}

func TestBuildPromptOpening(t *testing.T) {
	system, user := BuildPrompt("scifi", nil)

	if !strings.Contains(system, "1:First option") {
		t.Error("system prompt should pin the choice format")
	}
	if !strings.Contains(user, "scifi") {
		t.Errorf("user prompt should carry the theme: %q", user)
	}
	if !strings.Contains(user, "opening scene") {
		t.Errorf("empty context should ask for an opening: %q", user)
	}
}

func TestBuildPromptCarriesContext(t *testing.T) {
	events := []Event{
		{Kind: EventNarrative, Text: "You enter the vault."},
		{Kind: EventChoice, Text: "Pick the lock"},
		{Kind: EventNarrative, Text: "The lock clicks open."},
	}

	_, user := BuildPrompt("mystery", events)

	if !strings.Contains(user, "You enter the vault.") {
		t.Error("prompt should include earlier narrative")
	}
	if !strings.Contains(user, "The player chose: Pick the lock") {
		t.Errorf("prompt should include the choice: %q", user)
	}
}

func TestBuildPromptAttributesSharedSenders(t *testing.T) {
	events := []Event{
		{Kind: EventNarrative, Text: "A voice calls out."},
		{Kind: EventChoice, Text: "Answer it", Sender: "u7"},
	}

	_, user := BuildPrompt("fantasy", events)
	if !strings.Contains(user, "u7 chose: Answer it") {
		t.Errorf("shared choice should name the sender: %q", user)
	}
}

func TestOfflineBeatOpenings(t *testing.T) {
	tests := []struct {
		theme string
		want  string
	}{
		{"fantasy", "crossroads"},
		{"scifi", "colony ship"},
		{"horror", "manor"},
		{"wild_west", "wild west"},
	}

	for _, tt := range tests {
		beat := OfflineBeat(tt.theme, nil)
		if !strings.Contains(strings.ToLower(beat.Text), tt.want) {
			t.Errorf("theme %s opening %q should mention %q", tt.theme, beat.Text, tt.want)
		}
		if len(beat.Choices) != 2 {
			t.Errorf("theme %s: expected the continue/turn back pair, got %v", tt.theme, beat.Choices)
		}
	}
}

func TestOfflineBeatDeterministic(t *testing.T) {
	events := []Event{
		{Kind: EventNarrative, Text: "opening"},
		{Kind: EventChoice, Text: "Continue"},
	}

	a := OfflineBeat("fantasy", events)
	b := OfflineBeat("fantasy", events)

	if a.Text != b.Text || len(a.Choices) != len(b.Choices) {
		t.Errorf("offline beat not deterministic: %+v vs %+v", a, b)
	}
}

func TestOfflineBeatEnds(t *testing.T) {
	var events []Event
	for i := 0; i < offlineEndAfter; i++ {
		events = append(events, Event{Kind: EventNarrative, Text: "beat"})
		events = append(events, Event{Kind: EventChoice, Text: "Continue"})
	}

	beat := OfflineBeat("fantasy", events)
	if !beat.Terminal() {
		t.Error("offline tale should close after its beat budget")
	}
	if !strings.Contains(beat.Text, EndMarker) {
		t.Errorf("closing beat should carry the end marker: %q", beat.Text)
	}
}

func TestOfflineBeatTurnBackVariant(t *testing.T) {
	forward := []Event{
		{Kind: EventNarrative, Text: "opening"},
		{Kind: EventChoice, Text: "Continue"},
	}
	back := []Event{
		{Kind: EventNarrative, Text: "opening"},
		{Kind: EventChoice, Text: "Turn back"},
	}

	if OfflineBeat("fantasy", forward).Text == OfflineBeat("fantasy", back).Text {
		t.Error("turning back should steer to a different beat")
	}
}

func TestOfflineBeatsFitFrameBudget(t *testing.T) {
	for _, theme := range Themes() {
		beat := OfflineBeat(theme, nil)
		if msg := Format(beat); len(msg) > 230 {
			t.Errorf("theme %s opening does not fit a frame: %d chars", theme, len(msg))
		}
	}
}

func TestThemeCatalog(t *testing.T) {
	all := Themes()
	if len(all) != 34 {
		t.Errorf("expected 34 themes, got %d", len(all))
	}

	if !IsTheme("cyberpunk") {
		t.Error("cyberpunk should be a valid theme")
	}
	if IsTheme("Fantasy") {
		t.Error("theme match is exact, normalized input expected")
	}

	if got := Normalize("unknown_theme"); got != DefaultTheme {
		t.Errorf("unknown theme should normalize to %s, got %s", DefaultTheme, got)
	}
	if got := Normalize("noir"); got != "noir" {
		t.Errorf("valid theme should pass through, got %s", got)
	}
}
