// Package vault derives per-account deposit keypairs from a single BIP-39
// mnemonic and keeps private key material encrypted at rest. Plaintext keys
// exist only transiently, inside withdrawal signing.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

// DerivationPathPrefix is the BIP-44 prefix for every derived account key.
// The account index is appended as the final (non-hardened) segment.
const DerivationPathPrefix = "m/44'/60'/0'/0"

// Vault derives and seals deposit keys. Safe for concurrent use.
type Vault struct {
	master *hdkeychain.ExtendedKey
	aead   cipher.AEAD
}

// New builds a vault from a BIP-39 mnemonic and a master encryption key. The
// master key is stretched with SHA-256 so any non-empty string works.
func New(mnemonic, masterKey string) (*Vault, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	if masterKey == "" {
		return nil, errors.New("master key is required")
	}

	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive master key")
	}

	keyHash := sha256.Sum256([]byte(masterKey))
	block, err := aes.NewCipher(keyHash[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to init cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init gcm")
	}

	return &Vault{master: master, aead: aead}, nil
}

// GenerateMnemonic produces a fresh 24-word mnemonic for first boot.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate entropy")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate mnemonic")
	}
	return mnemonic, nil
}

// DerivedKey is one account's deposit identity. PrivateKeyEnc is the only
// form the key is ever persisted in.
type DerivedKey struct {
	Address       string
	Path          string
	PrivateKeyEnc string
}

// Derive returns the keypair at m/44'/60'/0'/0/index with the private key
// already sealed.
func (v *Vault) Derive(index uint32) (*DerivedKey, error) {
	key := v.master
	var err error
	for _, child := range []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	} {
		key, err = key.Derive(child)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child %d", child)
		}
	}

	btcPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to extract private key")
	}
	priv := btcPriv.ToECDSA()

	address := ethcrypto.PubkeyToAddress(priv.PublicKey).Hex()
	sealed, err := v.seal(ethcrypto.FromECDSA(priv))
	if err != nil {
		return nil, err
	}

	return &DerivedKey{
		Address:       address,
		Path:          fmt.Sprintf("%s/%d", DerivationPathPrefix, index),
		PrivateKeyEnc: sealed,
	}, nil
}

// Unseal decrypts a stored private key for transient signing use. Callers
// must not persist or log the result.
func (v *Vault) Unseal(privateKeyEnc string) (*ecdsa.PrivateKey, error) {
	raw, err := v.open(privateKeyEnc)
	if err != nil {
		return nil, err
	}
	priv, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	return priv, nil
}

// SealHex encrypts an externally supplied hex private key, used for the hot
// wallet key at boot.
func (v *Vault) SealHex(privateKeyHex string) (string, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return "", errors.Wrap(err, "invalid private key hex")
	}
	return v.seal(raw)
}

func (v *Vault) seal(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "failed to generate nonce")
	}
	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) open(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "invalid ciphertext encoding")
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns {
		return nil, errors.New("ciphertext too short")
	}
	plaintext, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt private key")
	}
	return plaintext, nil
}
