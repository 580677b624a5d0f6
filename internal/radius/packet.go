package radius

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
)

// RADIUS wire format constants (RFC 2865 section 3)
const (
	headerLength      = 20
	maxPacketLength   = 4096
	attrNASIdentifier = 32
)

// validHeader performs the cheap sanity checks on a raw datagram before any
// secret lookup or full parse: minimum length, a declared length that fits
// inside the datagram, and a known request code.
func validHeader(buf []byte) bool {
	if len(buf) < headerLength {
		return false
	}
	declared := int(binary.BigEndian.Uint16(buf[2:4]))
	if declared < headerLength || declared > len(buf) || declared > maxPacketLength {
		return false
	}
	switch buf[0] {
	case 1, 4, 40, 43: // Access-Request, Accounting-Request, Disconnect, CoA
		return true
	}
	return false
}

// peekNASIdentifier walks the raw attribute list and extracts the
// NAS-Identifier value without a full parse. The shared secret needed for
// a full parse is only known after the NAS registry lookup, which itself
// keys on this attribute.
func peekNASIdentifier(buf []byte) string {
	declared := int(binary.BigEndian.Uint16(buf[2:4]))
	attrs := buf[headerLength:declared]
	for len(attrs) >= 2 {
		attrType := attrs[0]
		attrLen := int(attrs[1])
		if attrLen < 2 || attrLen > len(attrs) {
			return ""
		}
		if attrType == attrNASIdentifier {
			return string(attrs[2:attrLen])
		}
		attrs = attrs[attrLen:]
	}
	return ""
}

// verifyAcctRequestAuthenticator checks the Request Authenticator of an
// Accounting-Request (RFC 2866 section 3): MD5 over the packet with the
// authenticator field zeroed, followed by the shared secret. Access-Request
// authenticators are random nonces and have no check; a wrong secret there
// surfaces as a garbled password instead.
func verifyAcctRequestAuthenticator(buf []byte, secret []byte) bool {
	declared := int(binary.BigEndian.Uint16(buf[2:4]))

	hash := md5.New()
	hash.Write(buf[0:4])
	hash.Write(make([]byte, 16))
	hash.Write(buf[headerLength:declared])
	hash.Write(secret)

	return bytes.Equal(hash.Sum(nil), buf[4:headerLength])
}
