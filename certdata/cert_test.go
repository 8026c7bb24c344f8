package certdata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_CertRoundTrip(t *testing.T) {
	c := Cert{DER: []byte{0x30, 0x82, 0x01}, Subject: []byte{0x31, 0x00}, Trust: -7}

	encoded, err := c.Encode()
	require.NoError(t, err)

	decoded, err := DecodeCert(encoded)
	require.NoError(t, err)
	require.Equal(t, c, decoded)
}

func Test_CertRoundTrip_EmptyFields(t *testing.T) {
	c := Cert{DER: []byte{}, Subject: []byte{}, Trust: 0}

	encoded, err := c.Encode()
	require.NoError(t, err)

	decoded, err := DecodeCert(encoded)
	require.NoError(t, err)
	require.Equal(t, c.Trust, decoded.Trust)
	require.Empty(t, decoded.DER)
	require.Empty(t, decoded.Subject)
}

func Test_DecodeCert_RejectsBadVersion(t *testing.T) {
	_, err := DecodeCert([]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	require.Error(t, err)
}

func Test_DecodeCert_RejectsTruncated(t *testing.T) {
	_, err := DecodeCert([]byte{0x01, 0x00, 0x05, 0xAA})
	require.Error(t, err)
}

func Test_DecodeCert_RejectsTrailingBytes(t *testing.T) {
	c := Cert{DER: []byte{0x01}, Subject: []byte{0x02}, Trust: 1}
	encoded, err := c.Encode()
	require.NoError(t, err)

	_, err = DecodeCert(append(encoded, 0xFF))
	require.Error(t, err)
}

func Test_Encode_RejectsOversizedFields(t *testing.T) {
	c := Cert{DER: make([]byte, MaxFieldLength+1), Subject: nil, Trust: 0}
	_, err := c.Encode()
	require.Error(t, err)
}
