package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte { return []byte("0123456789abcdef0123456789abcdef") }

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec, err := NewCodec(testKey())
	require.NoError(t, err)

	sealed, err := codec.Encrypt("Ana García")
	require.NoError(t, err)
	assert.NotEqual(t, "Ana García", sealed)

	plain, err := codec.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "Ana García", plain)
}

func TestEncryptEmptyStaysEmpty(t *testing.T) {
	codec, err := NewCodec(testKey())
	require.NoError(t, err)

	sealed, err := codec.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	plain, err := codec.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	codec, err := NewCodec(testKey())
	require.NoError(t, err)

	first, err := codec.Encrypt("ana@example.com")
	require.NoError(t, err)
	second, err := codec.Encrypt("ana@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "nonce must vary per sealing")
}

func TestDecryptRejectsTamperedPayload(t *testing.T) {
	codec, err := NewCodec(testKey())
	require.NoError(t, err)

	_, err = codec.Decrypt("not-base64!!")
	assert.Error(t, err)

	sealed, err := codec.Encrypt("ana@example.com")
	require.NoError(t, err)
	tampered := sealed[:len(sealed)-4] + "AAAA"
	_, err = codec.Decrypt(tampered)
	assert.Error(t, err)
}

func TestNewCodecFromHex(t *testing.T) {
	_, err := NewCodecFromHex("30313233343536373839616263646566" +
		"30313233343536373839616263646566")
	require.NoError(t, err)

	_, err = NewCodecFromHex("zz")
	assert.Error(t, err)

	_, err = NewCodecFromHex("abcd")
	assert.Error(t, err, "short key must be rejected by the cipher")
}

func TestEmailHashNormalizes(t *testing.T) {
	assert.Equal(t, EmailHash("ana@example.com"), EmailHash("  ANA@Example.COM "))
	assert.Empty(t, EmailHash("   "))
}

func TestAnonymousEmailSentinel(t *testing.T) {
	sentinel := AnonymousEmail()
	assert.True(t, IsAnonymousEmail(sentinel), "sentinel %q", sentinel)
	assert.True(t, IsAnonymousEmail(" ANON+0a1b-2c@LOCAL "))
	assert.False(t, IsAnonymousEmail("ana@example.com"))
	assert.False(t, IsAnonymousEmail("anon@local"))

	other := AnonymousEmail()
	assert.NotEqual(t, sentinel, other, "sentinels must not collide")
}
