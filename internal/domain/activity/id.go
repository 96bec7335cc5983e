package activity

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// idMessagePrefix is how many characters of the message take part in the activity id
const idMessagePrefix = 50

// ActivityID derives the deduplication key of an activity from its type, status and
// the first 50 characters of its message. Equal inputs always give equal ids, whatever
// the arrival order or transport.
func ActivityID(agentType AgentType, status AgentStatus, message string) string {
	d := xxhash.New()
	_, _ = d.WriteString(string(agentType))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(string(status))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(prefixRunes(message, idMessagePrefix))
	return strconv.FormatUint(d.Sum64(), 16)
}

func prefixRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
