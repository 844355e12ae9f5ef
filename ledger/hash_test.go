package ledger

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashHexRoundTrip(t *testing.T) {
	f := func(raw [HashSize]byte) bool {
		h := Hash(raw)
		parsed, err := ParseHash(h.String())
		return err == nil && parsed == h && len(h.String()) == 2*HashSize
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatalf("round trip property failed: %v", err)
	}
}

func TestParseHashRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 1, 32, 63, 65, 128} {
		_, err := ParseHash(hex.EncodeToString(make([]byte, n)))
		assert.ErrorIs(t, err, ErrHashLength, "length %d", n)
	}
}

func TestParseHashRejectsBadHex(t *testing.T) {
	_, err := ParseHash(strings.Repeat("zz", HashSize))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHashLength)
}

func TestHashJSON(t *testing.T) {
	var h Hash
	for i := range h {
		h[i] = 1
	}
	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Equal(t, `"`+strings.Repeat("01", HashSize)+`"`, string(data))

	var back Hash
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, h, back)

	err = json.Unmarshal([]byte(`"deadbeef"`), &back)
	assert.ErrorIs(t, err, ErrHashLength)
}

func TestZeroHash(t *testing.T) {
	assert.True(t, ZeroHash.IsZero())
	assert.Equal(t, strings.Repeat("0", 2*HashSize), ZeroHash.String())
	assert.False(t, Hash{1}.IsZero())
}
