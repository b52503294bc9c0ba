package azureservicebus

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Service Bus entity names allow letters, digits and a few separators;
// subscription names are additionally capped at 50 characters.
const maxSubscriptionNameLength = 50

// normalizeEntityName lowercases the given name and replaces every character
// the broker would reject with an underscore. The result is deterministic so
// all endpoints derive identical entity names from the same logical name.
func normalizeEntityName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_', r == '/':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// subscriptionNameFor derives the subscription name an endpoint uses on every
// topic it subscribes to: the last path segment of its input queue, normalized
// and truncated to the broker's limit.
func subscriptionNameFor(inputQueue string) string {
	segment := inputQueue
	if i := strings.LastIndex(inputQueue, "/"); i >= 0 {
		segment = inputQueue[i+1:]
	}
	name := normalizeEntityName(segment)
	if len(name) > maxSubscriptionNameLength {
		name = name[:maxSubscriptionNameLength]
	}
	return name
}

// The management API expresses durations as ISO 8601, e.g. "PT5M". No library
// in use here covers that format, so the two helpers below handle the subset
// the broker emits (days, hours, minutes, seconds).

func formatISODuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteString("P")
	if days := d / (24 * time.Hour); days > 0 {
		fmt.Fprintf(&b, "%dD", days)
		d -= days * 24 * time.Hour
	}
	if d > 0 {
		b.WriteString("T")
		if h := d / time.Hour; h > 0 {
			fmt.Fprintf(&b, "%dH", h)
			d -= h * time.Hour
		}
		if m := d / time.Minute; m > 0 {
			fmt.Fprintf(&b, "%dM", m)
			d -= m * time.Minute
		}
		if s := d / time.Second; s > 0 {
			fmt.Fprintf(&b, "%dS", s)
		}
	}
	out := b.String()
	if out == "P" {
		return "PT0S"
	}
	return out
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

func parseISODuration(s string) (time.Duration, error) {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}
	var d time.Duration
	if m[1] != "" {
		days, _ := time.ParseDuration(m[1] + "h")
		d += days * 24
	}
	if m[2] != "" {
		h, _ := time.ParseDuration(m[2] + "h")
		d += h
	}
	if m[3] != "" {
		min, _ := time.ParseDuration(m[3] + "m")
		d += min
	}
	if m[4] != "" {
		sec, _ := time.ParseDuration(m[4] + "s")
		d += sec
	}
	return d, nil
}
