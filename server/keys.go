package server

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tkrehbiel/activitycore/server/storage"
)

const keyBits = 2048

// Credentials sign requests on behalf of a local actor.
type Credentials struct {
	KeyID string // <actor>#main-key
	Key   crypto.PrivateKey
}

// Keyring hands out signing keys for local accounts.
// Keys live in the account records; parsed keys are kept in memory.
type Keyring struct {
	accounts storage.Accounts

	lock   sync.Mutex
	parsed map[string]crypto.PrivateKey
}

func NewKeyring(accounts storage.Accounts) *Keyring {
	return &Keyring{accounts: accounts, parsed: map[string]crypto.PrivateKey{}}
}

// Credentials for a username, with the given key id.
func (k *Keyring) Credentials(ctx context.Context, username, keyID string) (*Credentials, error) {
	k.lock.Lock()
	key, ok := k.parsed[username]
	k.lock.Unlock()
	if !ok {
		account, err := k.accounts.FindAccount(ctx, username)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, fmt.Errorf("%w: no account %s", ErrNotFound, username)
		}
		key, err = parsePrivateKey([]byte(account.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("private key for %s: %w", username, err)
		}
		k.lock.Lock()
		k.parsed[username] = key
		k.lock.Unlock()
	}
	return &Credentials{KeyID: keyID, Key: key}, nil
}

// EnsureKeys fills in an account's key pair, from files when configured,
// otherwise keeping what the account has or generating a new pair.
func (k *Keyring) EnsureKeys(account *storage.Account, privFile, pubFile string) error {
	defer k.forget(account.Name)
	if privFile != "" && pubFile != "" {
		priv, err := os.ReadFile(privFile)
		if err != nil {
			return err
		}
		pub, err := os.ReadFile(pubFile)
		if err != nil {
			return err
		}
		if _, err := parsePrivateKey(priv); err != nil {
			return fmt.Errorf("%s: %w", privFile, err)
		}
		account.PrivateKeyPEM = string(priv)
		account.PublicKeyPEM = string(pub)
		return nil
	}
	if account.PrivateKeyPEM != "" && account.PublicKeyPEM != "" {
		return nil
	}
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return err
	}
	account.PrivateKeyPEM, account.PublicKeyPEM, err = encodeKeyPair(key)
	return err
}

func (k *Keyring) forget(username string) {
	k.lock.Lock()
	defer k.lock.Unlock()
	delete(k.parsed, username)
}

func parsePrivateKey(b []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func encodeKeyPair(key *rsa.PrivateKey) (private string, public string, err error) {
	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", err
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	private = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}))
	public = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))
	return private, public, nil
}
