package util

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/tj/assert"
)

func TestGenerateKeyPair(t *testing.T) {

	pub, priv, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	pubKey, kErr := base64.StdEncoding.DecodeString(*pub)
	if kErr != nil {
		t.Fatal(kErr)
	}
	privKey, kErr := base64.StdEncoding.DecodeString(*priv)
	if kErr != nil {
		t.Fatal(kErr)
	}
	if len(pubKey) != 32 {
		t.Fatal("invalid public key length")
	}
	if len(privKey) != 64 {
		t.Fatal("invalid private key length")
	}
}

func TestSignMessage(t *testing.T) {
	pub, priv, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	base64Priv, _ := base64.StdEncoding.DecodeString(*priv)
	message := []byte("hello world")
	signature, err := Sign(message, base64Priv)
	if err != nil {
		t.Fatal(err)
	}
	if len(signature) != 64 {
		t.Fatal("invalid signature length")
	}
	verified, err := Verify(message, signature, *pub)
	assert.NoError(t, err)
	assert.True(t, verified)

	verified, err = Verify([]byte("tampered"), signature, *pub)
	assert.NoError(t, err)
	assert.False(t, verified)
}

func TestSignInvalidKey(t *testing.T) {
	_, err := Sign([]byte("hello"), []byte("short"))
	assert.Error(t, err)
}

func TestWalletID(t *testing.T) {
	id1 := WalletID("0xowner", "hash")
	id2 := WalletID("0xowner", "hash")
	id3 := WalletID("0xowner", "other")
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.True(t, IsValidWalletAddress(id1))
	assert.Equal(t, 42, len(id1))
}

func TestGenerateToken(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token, err := GenerateToken()
		assert.NoError(t, err)
		decoded, dErr := base64.RawURLEncoding.DecodeString(token)
		assert.NoError(t, dErr)
		assert.Equal(t, TokenLength, len(decoded))
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, HashToken("abc"), Sha256Hex([]byte("abc")))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashToken("abc"))
}

func TestTaskID(t *testing.T) {
	id := TaskID("<abc@example.com>")
	assert.True(t, strings.HasPrefix(id, "task-"))
	assert.Equal(t, 5+32, len(id))
	assert.Equal(t, id, TaskID(" <abc@example.com> "))
	assert.NotEqual(t, id, TaskID("<abd@example.com>"))
}

func TestIsValidWalletAddress(t *testing.T) {
	assert.True(t, IsValidWalletAddress("0x1234567890abcdef1234567890ABCDEF12345678"))
	assert.False(t, IsValidWalletAddress("1234567890abcdef1234567890ABCDEF12345678"))
	assert.False(t, IsValidWalletAddress("0x1234"))
}
