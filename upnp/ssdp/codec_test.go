package ssdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSearch(t *testing.T) {
	raw := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"ST: ssdp:all\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n\r\n"

	d, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, KindSearch, d.Kind)
	assert.Equal(t, STAll, d.Headers.Get(HeaderST))
	assert.Equal(t, 2, d.MX(5))
	require.NoError(t, d.ValidateSearch())
}

func TestParseCaseInsensitiveHeaders(t *testing.T) {
	raw := "NOTIFY * HTTP/1.1\r\n" +
		"host: 239.255.255.250:1900\r\n" +
		"nts: ssdp:alive\r\n" +
		"Cache-Control: max-age=1800\r\n" +
		"usn: uuid:abc::upnp:rootdevice\r\n\r\n"

	d, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.True(t, d.IsAlive())
	assert.Equal(t, 1800, d.MaxAge(300))
	assert.Equal(t, "uuid:abc", d.UDN())
}

func TestParseToleratesMalformedHeaderLines(t *testing.T) {
	raw := "NOTIFY * HTTP/1.1\r\n" +
		"this line has no colon\r\n" +
		"NTS: ssdp:byebye\r\n" +
		"USN: uuid:abc\r\n\r\n"

	d, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.True(t, d.IsByeBye())
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.Error(t, err)

	var uerr *UnsupportedDataError
	assert.ErrorAs(t, err, &uerr)

	_, err = Parse(nil)
	assert.Error(t, err)
}

func TestFormatStableOrder(t *testing.T) {
	d := NewDatagram(KindNotify)
	d.Headers.Set(HeaderUSN, "uuid:abc::upnp:rootdevice")
	d.Headers.Set(HeaderHost, "239.255.255.250:1900")
	d.Headers.Set(HeaderNTS, NTSAlive)
	d.Headers.Set(HeaderNT, STRootDevice)
	d.Headers.Set(HeaderCacheControl, "max-age=1800")
	d.Headers.Set(HeaderLocation, "http://192.168.1.5:4004/dev/uuid:abc/desc.xml")
	d.Headers.Set(HeaderServer, "Linux/6.1 UPnP/1.1 jupnp/1.0")
	d.Headers.Set(HeaderBootID, "1")
	d.Headers.Set(HeaderConfigID, "1")

	out := string(Format(d))
	require.True(t, strings.HasPrefix(out, "NOTIFY * HTTP/1.1\r\n"))
	require.True(t, strings.HasSuffix(out, "\r\n\r\n"))

	// Emission order is fixed, so two runs produce identical bytes.
	assert.Equal(t, out, string(Format(d)))

	hostIdx := strings.Index(out, "HOST:")
	ntIdx := strings.Index(out, "NT:")
	usnIdx := strings.Index(out, "USN:")
	assert.True(t, hostIdx < ntIdx && ntIdx < usnIdx)

	// Round-trip through the parser.
	parsed, err := Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, d.Headers.Get(HeaderUSN), parsed.Headers.Get(HeaderUSN))
	assert.True(t, parsed.IsAlive())
}

func TestMXCap(t *testing.T) {
	d := NewDatagram(KindSearch)
	d.Headers.Set(HeaderMX, "120")
	assert.Equal(t, 5, d.MX(5), "MX is capped")

	d.Headers.Set(HeaderMX, "not a number")
	assert.Equal(t, 1, d.MX(5))

	d.Headers.Set(HeaderMX, "0")
	assert.Equal(t, 1, d.MX(5))
}
