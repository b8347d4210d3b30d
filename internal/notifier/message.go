package notifier

import (
	"strings"
	"time"
)

// Alert builds the operator alert body: bold headline, one bullet per detail
// line, UTC timestamp. Every escalation and invariant push goes through this
// so the channel stays scannable.
func Alert(headline string, lines ...string) string {
	var b strings.Builder
	b.WriteString("🚨 *tiller: ")
	b.WriteString(headline)
	b.WriteString("*\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString("• ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("_" + time.Now().UTC().Format("2006-01-02 15:04:05 UTC") + "_")
	return b.String()
}
