// Package secrets is a small embedded key-value store for long-lived secret
// material, backed by badger. The wallet mnemonic lives here so it survives
// restarts without ever entering the relational database.
package secrets

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// KeyMnemonic is where the vault mnemonic is stored.
const KeyMnemonic = "wallet/mnemonic"

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("secret not found")

type Store struct {
	db *badger.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open secret store")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetString(key string) (string, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) SetString(key, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

// GetOrCreateString returns the stored value for key, calling create and
// persisting its result on first use.
func (s *Store) GetOrCreateString(key string, create func() (string, error)) (string, error) {
	value, err := s.GetString(key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	value, err = create()
	if err != nil {
		return "", err
	}
	if err := s.SetString(key, value); err != nil {
		return "", err
	}
	return value, nil
}
