package chat

import "github.com/hjwen/counsel-agent/internal/domain"

// Window bounds how much persisted history is sent to a model provider. A
// turn is a (user, assistant) message pair, so the bound is 2·maxTurns
// messages: short histories pass through unchanged, long ones keep only the
// most recent messages in their original order. The stored history itself is
// never touched.
func Window(history []domain.Message, maxTurns int) []domain.Message {
	limit := 2 * maxTurns
	if limit < 0 {
		limit = 0
	}
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
