package keygen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// DefaultBits is the RSA modulus size used for cluster keys.
const DefaultBits = 3072

// KeyPair holds an RSA key pair in ready-to-use formats.
type KeyPair struct {
	// PrivateKey is the RSA private key in PEM-encoded PKCS#1 format.
	PrivateKey []byte
	// PublicKey is the public key in OpenSSH authorized_keys format.
	PublicKey []byte
}

// GenerateRSAKeyPair generates a new RSA key pair with the specified bit size.
func GenerateRSAKeyPair(bits int) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA private key: %w", err)
	}
	if err := privateKey.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate RSA private key: %w", err)
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicRsaKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: privateKeyPEM,
		PublicKey:  ssh.MarshalAuthorizedKey(publicRsaKey),
	}, nil
}

// Write stores the pair as path (0600) and path+".pub" (0644), creating the
// parent directory if needed.
func (k *KeyPair) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, k.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(path+".pub", k.PublicKey, 0o644); err != nil { //nolint:gosec // public key
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// LoadOrGenerate reads the pair stored at path, or generates and stores a
// new one when path does not exist yet.
func LoadOrGenerate(path string, bits int) (*KeyPair, bool, error) {
	// #nosec G304
	priv, err := os.ReadFile(path)
	if err == nil {
		pub, err := PublicFromPrivate(priv)
		if err != nil {
			return nil, false, err
		}
		return &KeyPair{PrivateKey: priv, PublicKey: pub}, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("failed to read private key: %w", err)
	}

	kp, err := GenerateRSAKeyPair(bits)
	if err != nil {
		return nil, false, err
	}
	if err := kp.Write(path); err != nil {
		return nil, false, err
	}
	return kp, true, nil
}

// PublicFromPrivate derives the authorized_keys line of a PEM private key.
func PublicFromPrivate(privatePEM []byte) ([]byte, error) {
	signer, err := ssh.ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return ssh.MarshalAuthorizedKey(signer.PublicKey()), nil
}
