package story

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are the narrator of a text adventure played over a low-bandwidth mesh radio.
Write the next story beat in at most two short sentences, then put the numbered choices on the final line formatted exactly as: 1:First option 2:Second option 3:Third option.
Offer two or three choices with short labels. Keep the whole reply under 200 characters.
When the story reaches a natural conclusion, finish the beat with THE END and give no choices.`

// BuildPrompt assembles the narrator request for the next beat of a
// session: the fixed system instructions plus the theme and the story
// so far. An empty context asks for an opening scene.
func BuildPrompt(theme string, events []Event) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Theme: %s.\n", strings.ReplaceAll(theme, "_", " "))

	if len(events) == 0 {
		b.WriteString("Begin a new adventure. Set the opening scene and offer the first choices.")
		return systemPrompt, b.String()
	}

	b.WriteString("Story so far:\n")
	for _, ev := range events {
		switch ev.Kind {
		case EventChoice:
			if ev.Sender != "" {
				fmt.Fprintf(&b, "%s chose: %s\n", ev.Sender, ev.Text)
			} else {
				fmt.Fprintf(&b, "The player chose: %s\n", ev.Text)
			}
		default:
			fmt.Fprintf(&b, "%s\n", ev.Text)
		}
	}
	b.WriteString("Continue the story from the last choice.")

	return systemPrompt, b.String()
}
