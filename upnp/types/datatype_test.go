package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatatype(t *testing.T) {
	cases := map[string]Datatype{
		"ui1":         UI1,
		"ui4":         UI4,
		"i2":          I2,
		"int":         Int,
		"fixed.14.4":  Fixed14_4,
		"string":      String,
		"boolean":     Boolean,
		"bin.base64":  BinBase64,
		"dateTime.tz": DateTimeTZ,
		"uuid":        UUID,
		"uri":         URI,
	}

	for name, want := range cases {
		assert.Equal(t, want, ParseDatatype(name), name)
		assert.Equal(t, name, want.String(), name)
	}

	assert.Equal(t, Unknown, ParseDatatype("complex128"))
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		dt  Datatype
		in  string
		out string
	}{
		{UI1, "200", "200"},
		{UI2, "65535", "65535"},
		{UI4, "4294967295", "4294967295"},
		{I1, "-128", "-128"},
		{I2, "-32768", "-32768"},
		{I4, "-2147483648", "-2147483648"},
		{Int, "42", "42"},
		{R8, "1.5", "1.5"},
		{Fixed14_4, "3.1415", "3.1415"},
		{Char, "x", "x"},
		{String, "hello", "hello"},
		{Boolean, "1", "1"},
		{Boolean, "true", "1"},
		{Boolean, "no", "0"},
		{BinBase64, "aGVsbG8=", "aGVsbG8="},
		{BinHex, "deadbeef", "deadbeef"},
		{Date, "2026-08-06", "2026-08-06"},
		{DateTime, "2026-08-06T12:30:00", "2026-08-06T12:30:00"},
		{DateTimeTZ, "2026-08-06T12:30:00+02:00", "2026-08-06T12:30:00+02:00"},
		{Time, "12:30:00", "12:30:00"},
		{UUID, "8e8b06b0-252f-44f4-b18e-26a7a38ef356", "8e8b06b0-252f-44f4-b18e-26a7a38ef356"},
		{URI, "http://example.com/a?b=c", "http://example.com/a?b=c"},
	}

	for _, c := range cases {
		v, err := c.dt.Parse(c.in)
		require.NoError(t, err, "%s %q", c.dt, c.in)

		s, err := c.dt.Format(v)
		require.NoError(t, err, "%s %q", c.dt, c.in)
		assert.Equal(t, c.out, s, "%s %q", c.dt, c.in)
	}
}

func TestCastErrors(t *testing.T) {
	_, err := UI1.Cast(300)
	assert.Error(t, err)

	_, err = UI4.Cast("-1")
	assert.Error(t, err)

	_, err = I2.Cast("40000")
	assert.Error(t, err)

	_, err = Char.Cast("too long")
	assert.Error(t, err)

	_, err = Boolean.Cast("maybe")
	assert.Error(t, err)

	_, err = UI4.Cast("abc")
	assert.Error(t, err)
}

func TestValueRange(t *testing.T) {
	r, err := UI2.NewValueRange(0, 100, 5)
	require.NoError(t, err)

	assert.True(t, UI2.InRange(uint16(50), r))
	assert.True(t, UI2.InRange(0, r))
	assert.True(t, UI2.InRange(100, r))
	assert.False(t, UI2.InRange(101, r))

	// nil range accepts everything
	assert.True(t, UI2.InRange(65535, nil))

	_, err = UI2.NewValueRange(100, 0, nil)
	assert.Error(t, err, "min > max is rejected")

	_, err = UI2.NewValueRange(0, 100, 0)
	assert.Error(t, err, "step must be > 0")

	_, err = String.NewValueRange("a", "z", nil)
	assert.Error(t, err, "only numeric types carry ranges")
}

func TestUnsignedIntegerFourBytes(t *testing.T) {
	_, err := NewUnsignedIntegerFourBytes(-1)
	assert.Error(t, err)

	_, err = NewUnsignedIntegerFourBytes(1 << 32)
	assert.Error(t, err)

	u, err := ParseUnsignedIntegerFourBytes("4294967295")
	require.NoError(t, err)

	// Event-key wrap skips zero
	next, err := u.Increment(true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next.Value())

	_, err = u.Increment(false)
	assert.Error(t, err)

	zero, err := NewUnsignedIntegerFourBytes(0)
	require.NoError(t, err)
	one, err := zero.Increment(true)
	require.NoError(t, err)
	assert.Equal(t, "1", one.String())
}

func TestURNs(t *testing.T) {
	dt, err := ParseDeviceType("urn:schemas-upnp-org:device:MediaRenderer:1")
	require.NoError(t, err)
	assert.Equal(t, "MediaRenderer", dt.Type)
	assert.Equal(t, dt, NewDeviceType("MediaRenderer", 1))
	assert.True(t, NewDeviceType("MediaRenderer", 2).Implements(dt))
	assert.False(t, dt.Implements(NewDeviceType("MediaRenderer", 2)))

	st, err := ParseServiceType("urn:schemas-upnp-org:service:AVTransport:1")
	require.NoError(t, err)
	assert.Equal(t, "urn:schemas-upnp-org:service:AVTransport:1", st.String())

	sid, err := ParseServiceID("urn:upnp-org:serviceId:AVTransport")
	require.NoError(t, err)
	assert.Equal(t, "AVTransport", sid.ID)

	_, err = ParseDeviceType("urn:schemas-upnp-org:service:AVTransport:1")
	assert.Error(t, err)

	udn, err := ParseUDN("uuid:8e8b06b0-252f-44f4-b18e-26a7a38ef356")
	require.NoError(t, err)
	assert.Equal(t, "8e8b06b0-252f-44f4-b18e-26a7a38ef356", udn.Identifier())

	udn2, err := ParseUDN("8e8b06b0-252f-44f4-b18e-26a7a38ef356")
	require.NoError(t, err)
	assert.Equal(t, udn, udn2)
}
