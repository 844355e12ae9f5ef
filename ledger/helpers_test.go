package ledger

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestIssuer(t testing.TB, name string) (Issuer, ed25519.PrivateKey) {
	t.Helper()
	issuer, key, err := NewIssuer(name)
	require.NoError(t, err)
	return issuer, key
}

func newTestCredential(t testing.TB, issuer Issuer, name, value string) Credential {
	t.Helper()
	from, err := ParseDate("2024-01-01")
	require.NoError(t, err)
	return NewCredential(
		Attribute{Name: name, Value: value},
		issuer,
		NewSubject("Jan", "Kowalski"),
		ValidDuration{From: from},
	)
}
