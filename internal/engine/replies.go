package engine

import (
	"fmt"
	"strings"

	"github.com/bowerhall/meshtale/internal/session"
	"github.com/bowerhall/meshtale/internal/story"
)

const (
	replyNoStory     = "No active adventure. Type !adv to start."
	replyEnded       = "Adventure ended. Type !adv to start a new one."
	replyReset       = "Adventure reset. Type !adv to begin a new tale."
	replyQuit        = "Adventure ended. Thanks for playing! Type !adv to start a new one."
	replyUnavailable = "Story generation is unavailable right now. Send any message to try again."
	replyBusy        = "Still working on the previous message. Try again in a moment."
	replyRateLimited = "Too many messages. Wait a minute and try again."

	replyInProgress    = "A story is already in progress! Make a choice (1-%d) or !quit to end it."
	replyInvalidChoice = "Invalid choice. Pick a number from 1 to %d."
	replyPickNumber    = "Please pick a number from 1 to %d."
)

// helpText lists the command set with a theme preview short enough for
// a single radio frame.
func helpText() string {
	themes := story.Themes()
	preview := strings.Join(themes[:5], ", ")

	return fmt.Sprintf(
		"MeshTale commands:\n!adv [theme] - start adventure\n1-%d - make a choice\n!status - check progress\n!reset - start over\n!quit - end\nThemes: %s +%d more",
		story.MaxChoices, preview, len(themes)-5,
	)
}

func statusText(sess *session.Session) string {
	switch sess.State {
	case session.StateIdle:
		return replyNoStory
	case session.StateEnded:
		return replyEnded
	case session.StateAwaitingChoice:
		return fmt.Sprintf("Adventure in progress: %s, %d beats told. Waiting on a choice (1-%d).",
			sess.Theme, sess.NarrativeBeats(), len(sess.Choices))
	default:
		return fmt.Sprintf("Adventure in progress: %s, %d beats told. The next beat is pending; send any message to continue.",
			sess.Theme, sess.NarrativeBeats())
	}
}
