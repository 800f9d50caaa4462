package ssdp

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// UnsupportedDataError reports a datagram that is not SSDP. The receive
// loop logs and skips these; they must never abort it.
type UnsupportedDataError struct {
	Reason string
}

func (e *UnsupportedDataError) Error() string {
	return "unsupported datagram: " + e.Reason
}

func unsupported(format string, args ...interface{}) error {
	return &UnsupportedDataError{Reason: fmt.Sprintf(format, args...)}
}

// Parse decodes a datagram. Malformed header lines are skipped, an
// unrecognizable start line yields an UnsupportedDataError.
func Parse(data []byte) (*Datagram, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, len(data)+1), len(data)+1)

	if !scanner.Scan() {
		return nil, unsupported("empty datagram")
	}

	var kind Kind
	start := strings.TrimSpace(scanner.Text())
	switch {
	case strings.HasPrefix(start, "NOTIFY"):
		kind = KindNotify
	case strings.HasPrefix(start, "M-SEARCH"):
		kind = KindSearch
	case strings.HasPrefix(start, "HTTP/1.1 200") || strings.HasPrefix(start, "HTTP/1.0 200"):
		kind = KindResponse
	default:
		return nil, unsupported("unrecognized start line %q", start)
	}

	d := NewDatagram(kind)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			// Tolerate the occasional malformed header instead of
			// dropping the whole announcement.
			continue
		}
		d.Headers.Add(line[:idx], strings.TrimSpace(line[idx+1:]))
	}

	return d, nil
}

// headerOrder is the conventional emission order; anything else follows
// alphabetically so documents stay stable across runs.
var headerOrder = []string{
	HeaderHost,
	HeaderCacheControl,
	HeaderDate,
	HeaderEXT,
	HeaderLocation,
	HeaderMAN,
	HeaderMX,
	HeaderNT,
	HeaderNTS,
	HeaderST,
	HeaderServer,
	HeaderUSN,
	HeaderBootID,
	HeaderConfigID,
}

// Format encodes a datagram with CRLF line endings and the terminating
// blank line.
func Format(d *Datagram) []byte {
	var buf bytes.Buffer

	switch d.Kind {
	case KindNotify:
		buf.WriteString("NOTIFY * HTTP/1.1\r\n")
	case KindSearch:
		buf.WriteString("M-SEARCH * HTTP/1.1\r\n")
	case KindResponse:
		buf.WriteString("HTTP/1.1 200 OK\r\n")
	}

	emitted := make(map[string]bool)
	writeHeader := func(name string) {
		for _, v := range d.Headers[name] {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, v)
		}
		emitted[name] = true
	}

	for _, name := range headerOrder {
		if d.Headers.Has(name) {
			writeHeader(name)
		}
	}

	var rest []string
	for name := range d.Headers {
		if !emitted[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		writeHeader(name)
	}

	buf.WriteString("\r\n")
	return buf.Bytes()
}

// MaxAge extracts the max-age seconds from the CACHE-CONTROL header,
// falling back to def when absent or malformed.
func (d *Datagram) MaxAge(def int) int {
	cc := d.Headers.Get(HeaderCacheControl)
	for _, part := range strings.Split(cc, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if rest, ok := strings.CutPrefix(part, "max-age"); ok {
			rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "="))
			if n, err := strconv.Atoi(rest); err == nil && n > 0 {
				return n
			}
		}
	}
	return def
}

// MX extracts the M-SEARCH MX header capped to the given maximum,
// defaulting to 1 when absent or malformed.
func (d *Datagram) MX(cap int) int {
	n, err := strconv.Atoi(strings.TrimSpace(d.Headers.Get(HeaderMX)))
	if err != nil || n < 1 {
		return 1
	}
	if n > cap {
		return cap
	}
	return n
}

// ValidateSearch checks the mandatory M-SEARCH headers.
func (d *Datagram) ValidateSearch() error {
	if d.Kind != KindSearch {
		return unsupported("not an M-SEARCH")
	}
	if d.Headers.Get(HeaderMAN) != ManDiscover {
		return unsupported("M-SEARCH without MAN %s", ManDiscover)
	}
	if d.Headers.Get(HeaderST) == "" {
		return unsupported("M-SEARCH without ST")
	}
	return nil
}
