package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "15550100000", NormalizePhone("+1 (555) 010-0000"))
	assert.Equal(t, "15550100000", NormalizePhone("15550100000"))
	assert.Equal(t, "", NormalizePhone("no digits here"))
	assert.Equal(t, "", NormalizePhone(""))
}

func TestIDPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewTrackingID(), "sms_"))
	assert.True(t, strings.HasPrefix(NewCampaignID(), "cmp_"))
	assert.NotEqual(t, NewTrackingID(), NewTrackingID())
}

func TestRenderTemplate(t *testing.T) {
	out := RenderTemplate("Hi {name}, you owe {amount}.", map[string]string{
		"name":   "Ana",
		"amount": "$42",
	})
	assert.Equal(t, "Hi Ana, you owe $42.", out)

	assert.Equal(t, "no vars", RenderTemplate("no vars", nil))
	assert.Equal(t, "{missing}", RenderTemplate("{missing}", map[string]string{"other": "x"}))
}
