package trade

import (
	"fmt"
	"strings"
	"time"
)

// Render formats rec for viewer as a few human-readable lines.
func Render(rec Record, viewer string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trade %s [%s]", rec.ID, rec.Status)
	if !rec.Status.Terminal() {
		left := rec.ExpiresAt.Sub(now).Truncate(time.Second)
		if left < 0 {
			left = 0
		}
		fmt.Fprintf(&b, " expires in %s", left)
	}
	for _, p := range []PartyRecord{rec.A, rec.B} {
		b.WriteString("\n  ")
		b.WriteString(label(p))
		if p.Actor == viewer {
			b.WriteString(" (you)")
		}
		b.WriteString(": ")
		if len(p.Offers) == 0 {
			b.WriteString("(nothing)")
		} else {
			b.WriteString(strings.Join(p.Offers, ", "))
		}
		if p.Ready {
			b.WriteString(" | ready")
		}
		if p.Accepted {
			b.WriteString(" | accepted")
		}
	}
	return b.String()
}

func label(p PartyRecord) string {
	if p.Label != "" {
		return p.Label
	}
	return p.Actor
}
