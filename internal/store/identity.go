package store

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/sirupsen/logrus"
)

// IdentityFile is the identity's location relative to the repository root.
const IdentityFile = "identity.json"

const didKeyScheme = "did:key:"

// ed25519Multicodec is the multicodec prefix for Ed25519 public keys (0xED01).
var ed25519Multicodec = []byte{0xed, 0x01}

// Identity holds an Ed25519 keypair and the derived DID. The DID is the
// default author of commits made through a Repository.
type Identity struct {
	DID        string `json:"did"`
	PublicKey  string `json:"public_key"`  // base64-encoded 32 bytes
	PrivateKey string `json:"private_key"` // base64-encoded 32-byte seed
}

// LoadIdentity reads the identity at path, generating and saving a new one
// if the file does not exist.
func LoadIdentity(path string, log logrus.FieldLogger) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("parse identity: %w", err)
		}
		return &id, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}
	data, err = json.MarshalIndent(id, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	if err := SafeWrite(path, data, 0600); err != nil {
		return nil, fmt.Errorf("write identity: %w", err)
	}
	if log != nil {
		log.WithFields(logrus.Fields{"did": id.DID, "path": path}).Info("generated new identity")
	}
	return id, nil
}

// GenerateIdentity creates a fresh keypair.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Identity{
		DID:        encodeDIDKey(pub),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv.Seed()),
	}, nil
}

// SigningKey expands the stored seed into a private key.
func (id *Identity) SigningKey() (ed25519.PrivateKey, error) {
	seed, err := base64.StdEncoding.DecodeString(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// VerifyKey returns the public key, checking it against the DID.
func (id *Identity) VerifyKey() (ed25519.PublicKey, error) {
	pub, err := base64.StdEncoding.DecodeString(id.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	fromDID, err := DecodeDIDKey(id.DID)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pub, fromDID) {
		return nil, fmt.Errorf("public key does not match %s", id.DID)
	}
	return ed25519.PublicKey(pub), nil
}

// encodeDIDKey encodes a raw Ed25519 public key as did:key:z... using the
// multicodec 0xED01 prefix and base58btc.
func encodeDIDKey(publicKey []byte) string {
	prefixed := append(bytes.Clone(ed25519Multicodec), publicKey...)
	s, err := multibase.Encode(multibase.Base58BTC, prefixed)
	if err != nil {
		panic(err)
	}
	return didKeyScheme + s
}

// DecodeDIDKey returns the Ed25519 public key carried by a did:key DID.
func DecodeDIDKey(did string) ([]byte, error) {
	if !strings.HasPrefix(did, didKeyScheme+"z") {
		return nil, fmt.Errorf("not a base58btc did:key: %q", did)
	}
	if len(did) == len(didKeyScheme)+1 {
		return nil, errors.New("empty did:key payload")
	}
	_, decoded, err := multibase.Decode(did[len(didKeyScheme):])
	if err != nil {
		return nil, fmt.Errorf("decode did:key: %w", err)
	}
	if !bytes.HasPrefix(decoded, ed25519Multicodec) {
		return nil, errors.New("did:key is not an Ed25519 key")
	}
	pub := decoded[len(ed25519Multicodec):]
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("did:key public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	return pub, nil
}
