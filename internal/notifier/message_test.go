package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertFormatting(t *testing.T) {
	msg := Alert("reconciliation escalated",
		"execution e1 (proposal p1)",
		"",
		"12 lookup attempts inconclusive, operator review required")

	assert.Contains(t, msg, "*tiller: reconciliation escalated*")
	assert.Contains(t, msg, "• execution e1 (proposal p1)")
	assert.Contains(t, msg, "• 12 lookup attempts inconclusive")
	// Blank detail lines are dropped, not rendered as empty bullets.
	assert.NotContains(t, msg, "• \n")
	assert.Contains(t, msg, "UTC")
}

func TestTelegramRequiresConfig(t *testing.T) {
	err := (&Telegram{}).SendText("hello")
	assert.Error(t, err)
}
