package util

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULID is sortable (nice for DB indexes and dashboards)
func NewTrackingID() string {
	t := time.Now().UTC()
	return "sms_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewCampaignID() string {
	t := time.Now().UTC()
	return "cmp_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// Very simple {var} replacement for campaign templates.
func RenderTemplate(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
