package store

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credledger/ledger"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{}
	for _, backend := range []string{BackendFile, BackendBadger} {
		s, err := Open(backend, t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		stores[backend] = s
	}
	return stores
}

func testIssuer(t *testing.T) (ledger.Issuer, ed25519.PrivateKey) {
	t.Helper()
	issuer, key, err := ledger.NewIssuer("Transport Office")
	require.NoError(t, err)
	return issuer, key
}

func testRecord(t *testing.T, issuer ledger.Issuer, key ed25519.PrivateKey) CredentialRecord {
	t.Helper()
	from, err := ledger.ParseDate("2024-03-01")
	require.NoError(t, err)
	c := ledger.NewCredential(
		ledger.Attribute{Name: "driving-licence-category", Value: "B"},
		issuer,
		ledger.NewSubject("Anna", "Nowak"),
		ledger.ValidDuration{From: from},
	)
	return CredentialRecord{
		Credential: c,
		Issuance:   ledger.Sign(c, key, false),
		Revocation: ledger.Sign(c, key, true),
	}
}

func TestUninitializedStore(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.LoadChain()
			assert.ErrorIs(t, err, ErrNotInitialized)
			_, err = s.LoadRegistry()
			assert.ErrorIs(t, err, ErrNotInitialized)
			_, err = s.LoadOpenBlock()
			assert.ErrorIs(t, err, ErrNoOpenBlock)
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Init())
			issuer, key := testIssuer(t)
			rec := testRecord(t, issuer, key)

			reg, err := s.LoadRegistry()
			require.NoError(t, err)
			assert.Empty(t, reg.Issuers)
			reg.Issuers = append(reg.Issuers, issuer)
			reg.Subjects = append(reg.Subjects, rec.Credential.Subject)
			reg.Credentials = append(reg.Credentials, rec)
			require.NoError(t, s.SaveRegistry(reg))

			open := ledger.NewBlock(issuer)
			require.NoError(t, open.AddAssertion(rec.Issuance, false))
			require.NoError(t, s.SaveOpenBlock(open))

			reopened, err := s.LoadOpenBlock()
			require.NoError(t, err)
			assert.False(t, reopened.Finalized())
			assert.Equal(t, open.Issuances(), reopened.Issuances())

			chain, err := s.LoadChain()
			require.NoError(t, err)
			require.NoError(t, chain.AddBlock(reopened, key))
			require.NoError(t, s.SaveChain(chain))
			require.NoError(t, s.ClearOpenBlock())

			_, err = s.LoadOpenBlock()
			assert.ErrorIs(t, err, ErrNoOpenBlock)

			loaded, err := s.LoadChain()
			require.NoError(t, err)
			assert.Equal(t, 1, loaded.Len())
			assert.NoError(t, loaded.Verify())

			reg, err = s.LoadRegistry()
			require.NoError(t, err)
			got, err := reg.Credential(0)
			require.NoError(t, err)
			assert.True(t, loaded.CheckCredential(got.Credential))
		})
	}
}

func TestSaveChainIsAppendOnly(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Init())
			issuer, key := testIssuer(t)

			chain := ledger.NewBlockchain()
			require.NoError(t, chain.AddBlock(ledger.NewBlock(issuer), key))
			require.NoError(t, chain.AddBlock(ledger.NewBlock(issuer), key))
			require.NoError(t, s.SaveChain(chain))

			assert.ErrorIs(t, s.SaveChain(ledger.NewBlockchain()), ErrChainRewrite)

			forked := ledger.NewBlockchain()
			require.NoError(t, forked.AddBlock(ledger.NewBlock(issuer), key))
			require.NoError(t, forked.AddBlock(ledger.NewBlock(issuer), key))
			require.NoError(t, forked.AddBlock(ledger.NewBlock(issuer), key))
			assert.ErrorIs(t, s.SaveChain(forked), ErrChainRewrite)

			require.NoError(t, chain.AddBlock(ledger.NewBlock(issuer), key))
			require.NoError(t, s.SaveChain(chain))
			loaded, err := s.LoadChain()
			require.NoError(t, err)
			assert.Equal(t, 3, loaded.Len())
			assert.Equal(t, chain.TailHash(), loaded.TailHash())
		})
	}
}

func TestSaveOpenBlockRejectsFinalized(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Init())
			issuer, key := testIssuer(t)
			b := ledger.NewBlock(issuer)
			require.NoError(t, ledger.NewBlockchain().AddBlock(b, key))
			assert.ErrorIs(t, s.SaveOpenBlock(b), ledger.ErrBlockFinalized)
		})
	}
}

func TestInitDiscardsState(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Init())
			issuer, key := testIssuer(t)
			chain := ledger.NewBlockchain()
			require.NoError(t, chain.AddBlock(ledger.NewBlock(issuer), key))
			require.NoError(t, s.SaveChain(chain))
			require.NoError(t, s.SaveOpenBlock(ledger.NewBlock(issuer)))

			require.NoError(t, s.Init())
			loaded, err := s.LoadChain()
			require.NoError(t, err)
			assert.Equal(t, 0, loaded.Len())
			_, err = s.LoadOpenBlock()
			assert.ErrorIs(t, err, ErrNoOpenBlock)
		})
	}
}

func TestFileStoreTamperedFingerprint(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Init())

	issuer, key := testIssuer(t)
	rec := testRecord(t, issuer, key)
	b := ledger.NewBlock(issuer)
	require.NoError(t, b.AddAssertion(rec.Issuance, false))
	chain := ledger.NewBlockchain()
	require.NoError(t, chain.AddBlock(b, key))
	require.NoError(t, s.SaveChain(chain))

	path := filepath.Join(dir, chainFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	flipped := rec.Issuance.Fingerprint
	flipped[0] ^= 0xff
	tampered := strings.Replace(string(data), rec.Issuance.Fingerprint.String(), flipped.String(), 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	loaded, err := s.LoadChain()
	require.NoError(t, err)
	assert.False(t, loaded.CheckCredential(rec.Credential))
	assert.ErrorIs(t, loaded.Verify(), ledger.ErrIntegrity)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("sqlite", t.TempDir())
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestRegistryIndex(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Issuer(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = reg.Subject(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = reg.Credential(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}
