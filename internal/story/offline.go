package story

import (
	"fmt"
	"strings"
)

// offlineEndAfter is how many narrative beats an offline tale runs
// before it closes.
const offlineEndAfter = 6

var offlineOpenings = map[string]string{
	"fantasy": "You stand at a crossroads in the old forest. A worn signpost points two ways into the dark.",
	"scifi":   "You wake aboard the colony ship Meridian. The corridor lights pulse red and a hatch stands ajar.",
	"horror":  "The manor door swings open on its own. Cold air drifts out from the unlit hall.",
}

var offlineContinue = []string{
	"The path narrows and the light thins. Something moves just ahead of you.",
	"You press on. A low sound rises and falls somewhere out of sight.",
	"The way opens into a clearing. Two trails lead on from here.",
	"Your steps echo strangely. The air grows colder the further you go.",
	"A faint glow marks the way forward. The ground slopes down and away.",
}

var offlineReturn = []string{
	"You retrace your steps, but the way back is not as you remember it.",
	"Turning back, you find the path behind you has changed.",
	"The return route bends where it should run straight. You are not where you were.",
}

var offlineChoices = []string{"Continue", "Turn back"}

// OfflineBeat produces the next beat of the canned tale used when no
// narrator backend is reachable. It is a pure function of theme and
// context, so a retry after a transient failure lands on the same beat.
func OfflineBeat(theme string, events []Event) Beat {
	beats := 0
	for _, ev := range events {
		if ev.Kind == EventNarrative {
			beats++
		}
	}

	if beats == 0 {
		text := offlineOpenings[theme]
		if text == "" {
			text = fmt.Sprintf("Your %s adventure begins on a quiet road that soon splits in two.", strings.ReplaceAll(theme, "_", " "))
		}
		return Beat{Text: text, Choices: append([]string(nil), offlineChoices...)}
	}

	if beats >= offlineEndAfter {
		return Beat{Text: "The road closes behind you and the tale finds its rest. " + EndMarker}
	}

	turnedBack := false
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == EventChoice {
			turnedBack = events[i].Text == "Turn back"
			break
		}
	}

	text := offlineContinue[beats%len(offlineContinue)]
	if turnedBack {
		text = offlineReturn[beats%len(offlineReturn)]
	}

	return Beat{Text: text, Choices: append([]string(nil), offlineChoices...)}
}
