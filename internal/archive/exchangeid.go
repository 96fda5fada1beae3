package archive

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// idSeed is mixed into every id hash so Diachron's exchange ids never
// collide with other xxhash consumers hashing the same raw strings.
const idSeed = "diachron-exchange-v1\x00"

const userPrefixLen = 64

// generateExchangeID derives the stable 16-hex exchange id (spec.md §3)
// from project, timestamp, and a user-message prefix. xxhash is a
// non-cryptographic 64-bit hash; a 64-bit sum renders as exactly 16 hex
// digits.
func generateExchangeID(project, timestamp, userMessage string) string {
	prefix := userMessage
	if len(prefix) > userPrefixLen {
		prefix = prefix[:userPrefixLen]
	}
	sum := xxhash.Sum64String(idSeed + project + "\x00" + timestamp + "\x00" + prefix)
	return fmt.Sprintf("%016x", sum)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
