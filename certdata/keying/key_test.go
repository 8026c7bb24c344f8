package keying

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Key_ConcatenatesPrefixAndParts(t *testing.T) {
	got := Key(PrefixIssuerSerial, []byte("issuer"), []byte("serial"))
	require.Equal(t, []byte("isissuerserial"), got)
}

func Test_Key_NoPartsIsJustPrefix(t *testing.T) {
	got := Key(PrefixSubject)
	require.Equal(t, []byte("subject"), got)
}

func Test_Key_DistinctPrefixesDoNotCollide(t *testing.T) {
	a := Key(PrefixCert, []byte("x"))
	b := Key(PrefixSubject, []byte("t"))
	require.NotEqual(t, a, b)
}
