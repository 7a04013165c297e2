// Package fairness implements the commit-reveal protocol behind every game
// outcome: the server commits to SHA-256(server_seed) before any wager, each
// wager consumes one nonce, and outcomes derive from
// HMAC-SHA256(key=server_seed, message="client_seed:nonce"). Once a seed is
// revealed it is retired and never rolls again.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

const (
	// ServerSeedBytes is the entropy of a server seed before hex encoding.
	ServerSeedBytes = 32
	clientSeedBytes = 16

	rollRange = 100
)

// GenerateServerSeed returns a fresh hex-encoded 256-bit server seed.
func GenerateServerSeed() (string, error) {
	buf := make([]byte, ServerSeedBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate server seed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateClientSeed returns a default client seed for users who never set
// their own.
func GenerateClientSeed() (string, error) {
	buf := make([]byte, clientSeedBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate client seed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashSeed is the published commitment for a server seed.
func HashSeed(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// Digest computes the per-wager HMAC. Everything else in this package is
// derived from it.
func Digest(serverSeed, clientSeed string, nonce int64) string {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	fmt.Fprintf(mac, "%s:%d", clientSeed, nonce)
	return hex.EncodeToString(mac.Sum(nil))
}

// Roll maps the digest to a discrete outcome in [0,100): the first 8 hex
// characters as an integer, mod 100.
func Roll(serverSeed, clientSeed string, nonce int64) int {
	digest := Digest(serverSeed, clientSeed, nonce)
	raw, _ := hex.DecodeString(digest[:8])
	return int(binary.BigEndian.Uint32(raw) % rollRange)
}

// Float maps the digest to a continuous outcome in [0,1): the first 52 bits
// (13 hex characters) over 2^52. Used by game types that need a real-valued
// result instead of a 0-99 roll.
func Float(serverSeed, clientSeed string, nonce int64) float64 {
	digest := Digest(serverSeed, clientSeed, nonce)
	var n uint64
	for _, c := range []byte(digest[:13]) {
		n <<= 4
		switch {
		case c >= '0' && c <= '9':
			n |= uint64(c - '0')
		case c >= 'a' && c <= 'f':
			n |= uint64(c-'a') + 10
		}
	}
	return float64(n) / math.Pow(2, 52)
}

// Verify recomputes the HMAC for the given inputs and compares it against the
// claimed digest. After the server seed is revealed this is what lets a user
// prove the house could not have picked the outcome post hoc.
func Verify(serverSeed, clientSeed string, nonce int64, claimedDigest string) bool {
	expected := Digest(serverSeed, clientSeed, nonce)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(claimedDigest)) == 1
}

// VerifyCommitment checks that a revealed server seed matches its published
// hash.
func VerifyCommitment(serverSeed, seedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashSeed(serverSeed)), []byte(seedHash)) == 1
}

// Rotation is the result of retiring a server seed: the revealed seed, its
// commitment, and the last nonce it served, plus the replacement seed's
// commitment.
type Rotation struct {
	RevealedSeed     string `json:"revealed_seed"`
	RevealedSeedHash string `json:"revealed_seed_hash"`
	FinalNonce       int64  `json:"final_nonce"`
	NextSeedHash     string `json:"next_seed_hash"`
}
