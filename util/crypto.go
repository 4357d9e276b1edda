package util

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/mailio/go-mailio-datawallet/types"
	"golang.org/x/crypto/sha3"
)

const (
	AddressLength = 20 // bytes
	TokenLength   = 32 // bytes of entropy in a consent token
)

// WalletAddress represents the 20 byte address (same as Ethereum account).
type WalletAddress [AddressLength]byte

var walletAddressRegex = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")

// SetBytes sets the address to the value of b.
// If b is larger than len(a), b will be cropped from the left.
func (a *WalletAddress) SetBytes(b []byte) {
	if len(b) > len(a) {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

// Hex returns 0x prefixed lowercase hex representation
func (a WalletAddress) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// BytesToAddress returns Address with value b.
// If b is larger than len(h), b will be cropped from the left.
func BytesToAddress(b []byte) WalletAddress {
	var a WalletAddress
	a.SetBytes(b)
	return a
}

// Keccak256 of the data
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// WalletID derives a deterministic wallet identifier from the given parts.
// Parts are joined with "|" and the last 20 bytes of the keccak256 digest are used.
func WalletID(parts ...string) string {
	digest := Keccak256([]byte(strings.Join(parts, "|")))
	return BytesToAddress(digest).Hex()
}

// Sha256Hex returns the sha256 hash of the data as a hex string
func Sha256Hex(data []byte) string {
	hash := sha256.New()
	hash.Write(data)
	sum := hash.Sum(nil)
	return hex.EncodeToString(sum)
}

// GenerateToken returns an unguessable url safe token
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is the only representation of a token that gets persisted
func HashToken(token string) string {
	return Sha256Hex([]byte(token))
}

// TaskID derives the processing task identifier from the message id
func TaskID(messageID string) string {
	return "task-" + Sha256Hex([]byte(strings.TrimSpace(messageID)))[:32]
}

// Signing message using ed25519
func Sign(message []byte, privateKey ed25519.PrivateKey) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, types.ErrInvalidPrivateKey
	}
	signature := ed25519.Sign(privateKey, message)
	return signature, nil
}

// Verify message signature using ed25519
func Verify(message []byte, signature []byte, publicKeyBase64 string) (bool, error) {
	pubKey, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return false, err
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, types.ErrInvalidPublicKey
	}

	if ed25519.Verify(pubKey, message, signature) {
		return true, nil
	}
	return false, nil
}

// Generated ed25519 signing key pair and returns base64 public key, private key
// returns publicKey, privateKey, error
func GenerateEd25519KeyPair() (*string, *string, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}

	pubKeyBase64 := base64.StdEncoding.EncodeToString(pubKey)
	privKeyBase64 := base64.StdEncoding.EncodeToString(privKey)
	return &pubKeyBase64, &privKeyBase64, nil
}

// helper to check if the wallet address is valid
func IsValidWalletAddress(address string) bool {
	return walletAddressRegex.MatchString(address)
}
