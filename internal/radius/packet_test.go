package radius

import (
	"testing"

	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
)

func TestValidHeader(t *testing.T) {
	secret := []byte("s3cret")
	p := radius.New(radius.CodeAccessRequest, secret)
	rfc2865.UserName_SetString(p, "alice")
	encoded, err := p.Encode()
	require.NoError(t, err)

	require.True(t, validHeader(encoded))

	// Too short
	require.False(t, validHeader(encoded[:10]))

	// Declared length beyond the datagram
	truncated := make([]byte, len(encoded))
	copy(truncated, encoded)
	truncated[2] = 0xFF
	truncated[3] = 0xFF
	require.False(t, validHeader(truncated))

	// Response codes are not valid requests
	resp := make([]byte, len(encoded))
	copy(resp, encoded)
	resp[0] = 2 // Access-Accept
	require.False(t, validHeader(resp))
}

func TestPeekNASIdentifier(t *testing.T) {
	secret := []byte("s3cret")
	p := radius.New(radius.CodeAccessRequest, secret)
	rfc2865.UserName_SetString(p, "alice")
	rfc2865.NASIdentifier_SetString(p, "vpn-concentrator-1")
	encoded, err := p.Encode()
	require.NoError(t, err)

	require.Equal(t, "vpn-concentrator-1", peekNASIdentifier(encoded))
}

func TestPeekNASIdentifierAbsent(t *testing.T) {
	p := radius.New(radius.CodeAccessRequest, []byte("s3cret"))
	rfc2865.UserName_SetString(p, "alice")
	encoded, err := p.Encode()
	require.NoError(t, err)

	require.Empty(t, peekNASIdentifier(encoded))
}

func TestVerifyAcctRequestAuthenticator(t *testing.T) {
	secret := []byte("s3cret")
	p := radius.New(radius.CodeAccountingRequest, secret)
	rfc2866.AcctStatusType_Set(p, rfc2866.AcctStatusType_Value_Start)
	rfc2866.AcctSessionID_SetString(p, "abc123")
	encoded, err := p.Encode()
	require.NoError(t, err)

	require.True(t, verifyAcctRequestAuthenticator(encoded, secret))
	require.False(t, verifyAcctRequestAuthenticator(encoded, []byte("wrong")))

	// Tampered payload fails the check
	tampered := make([]byte, len(encoded))
	copy(tampered, encoded)
	tampered[len(tampered)-1] ^= 0x01
	require.False(t, verifyAcctRequestAuthenticator(tampered, secret))
}
