package gena

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joerg1985/jupnp/upnp/types"
)

// NewSID mints a subscription identifier.
func NewSID() string {
	return "uuid:" + uuid.New().String()
}

// Subscription is the shared lease state of one GENA subscription, on
// either side of the wire: the SID, the granted lease, the monotonic
// event key and the expiry instant.
type Subscription struct {
	SID            string
	Callbacks      []*url.URL
	TimeoutSeconds int
	ExpiresAt      time.Time

	eventKey    types.UnsignedIntegerFourBytes
	initialSent bool
}

// NewSubscription starts a lease of the given duration.
func NewSubscription(sid string, callbacks []*url.URL, timeoutSeconds int, now time.Time) *Subscription {
	return &Subscription{
		SID:            sid,
		Callbacks:      callbacks,
		TimeoutSeconds: timeoutSeconds,
		ExpiresAt:      now.Add(time.Duration(timeoutSeconds) * time.Second),
	}
}

// Renew extends the lease from now.
func (s *Subscription) Renew(timeoutSeconds int, now time.Time) {
	s.TimeoutSeconds = timeoutSeconds
	s.ExpiresAt = now.Add(time.Duration(timeoutSeconds) * time.Second)
}

// IsExpired reports whether the lease has lapsed at now.
func (s *Subscription) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CurrentEventKey returns the key of the last event, 0 before any.
func (s *Subscription) CurrentEventKey() types.UnsignedIntegerFourBytes {
	return s.eventKey
}

// NextEventKey returns the SEQ for the next NOTIFY and advances the
// counter: 0 for the initial event, then 1, 2, … with the 32-bit wrap
// skipping 0.
func (s *Subscription) NextEventKey() types.UnsignedIntegerFourBytes {
	if !s.initialSent {
		s.initialSent = true
		return s.eventKey // zero value, SEQ 0
	}
	next, _ := s.eventKey.Increment(true)
	s.eventKey = next
	return next
}

// FormatTimeout renders the TIMEOUT header value.
func FormatTimeout(seconds int) string {
	return fmt.Sprintf("Second-%d", seconds)
}

// ParseTimeout parses `Second-<n>` or `infinite`. Infinite is mapped to
// the given cap, per the lease-clamping policy.
func ParseTimeout(header string, infiniteSeconds int) (int, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, fmt.Errorf("empty TIMEOUT header")
	}
	if strings.EqualFold(header, "infinite") {
		return infiniteSeconds, nil
	}
	if !strings.HasPrefix(strings.ToLower(header), "second-") {
		return 0, fmt.Errorf("invalid TIMEOUT header %q", header)
	}
	n, err := strconv.Atoi(header[len("second-"):])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid TIMEOUT header %q", header)
	}
	return n, nil
}

// ParseCallbacks parses the CALLBACK header: one or more <URL> entries.
func ParseCallbacks(header string) ([]*url.URL, error) {
	var urls []*url.URL
	rest := header
	for {
		open := strings.Index(rest, "<")
		if open < 0 {
			break
		}
		end := strings.Index(rest[open:], ">")
		if end < 0 {
			return nil, fmt.Errorf("unterminated callback URL in %q", header)
		}
		raw := rest[open+1 : open+end]
		u, err := url.Parse(raw)
		if err != nil || u.Scheme != "http" {
			return nil, fmt.Errorf("invalid callback URL %q", raw)
		}
		urls = append(urls, u)
		rest = rest[open+end+1:]
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no callback URLs in %q", header)
	}
	return urls, nil
}

// FormatCallbacks renders the CALLBACK header.
func FormatCallbacks(urls []*url.URL) string {
	var b strings.Builder
	for _, u := range urls {
		fmt.Fprintf(&b, "<%s>", u)
	}
	return b.String()
}
