package chat

import (
	"strings"

	"github.com/freightdesk/permitchat/pkg/model"
)

// DotStagger is the delay between the three typing-indicator dots. Purely
// presentational.
const DotStagger = 150

// TypingLabel renders the "who is typing" line for a channel.
func TypingLabel(entries []model.TypingEntry) string {
	switch len(entries) {
	case 0:
		return ""
	case 1:
		return entries[0].Email + " is typing"
	case 2:
		return entries[0].Email + " and " + entries[1].Email + " are typing"
	default:
		return "Several people are typing."
	}
}

// TypingDots returns the staggered three-dot animation frame. Consumers
// advance frame every DotStagger milliseconds.
func TypingDots(frame int) string {
	if frame < 0 {
		frame = -frame
	}
	var b strings.Builder
	for i := 0; i < 3; i++ {
		if i == frame%3 {
			b.WriteString("●")
		} else {
			b.WriteString("·")
		}
	}
	return b.String()
}

// Badge renders the notification badge glyph. The pulsing affordance appears
// whenever unread notifications exist and clears the instant they are gone.
func Badge(hasUnread bool) string {
	if hasUnread {
		return "🔔●"
	}
	return "🔔"
}
