package crypto

import (
	"bytes"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestKeyRoundTrips(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	fromBytes, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if !bytes.Equal(fromBytes.Bytes(), key.Bytes()) {
		t.Fatalf("bytes round trip mismatch")
	}

	path := filepath.Join(t.TempDir(), "authority.key")
	if err := SaveKeyFile(path, key); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadKeyFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address() != key.PubKey().Address() {
		t.Fatalf("key file round trip changed the address")
	}
}

func TestSignProducesRecoverableSignature(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := ethcrypto.Keccak256([]byte("authorize this"))

	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length %d, want 65", len(sig))
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != key.PubKey().Address() {
		t.Fatalf("recovered address mismatch")
	}

	if _, err := key.Sign([]byte("short")); err == nil {
		t.Fatalf("non-32-byte digest must be rejected")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("scrypt key derivation is slow")
	}
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "authority.keystore")

	if err := SaveToKeystore(path, key, "correct horse"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address() != key.PubKey().Address() {
		t.Fatalf("keystore round trip changed the address")
	}

	if _, err := LoadFromKeystore(path, "wrong passphrase"); err == nil {
		t.Fatalf("wrong passphrase must fail")
	}
}
