// Package crypto provides the asymmetric key tooling consoles use for
// the public keys they declare at authentication. The relay itself
// never encrypts, decrypts or signs traffic.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

const keyBits = 2048

// ErrDecrypt is returned when decryption fails, whether from a wrong
// key or corrupted ciphertext.
var ErrDecrypt = errors.New("decryption failed")

// GenerateKeyPair returns a fresh RSA key pair as base64-encoded PKCS#1
// DER strings.
func GenerateKeyPair() (publicKey, privateKey string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key pair: %w", err)
	}
	publicKey = base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&key.PublicKey))
	privateKey = base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PrivateKey(key))
	return publicKey, privateKey, nil
}

// Encrypt encrypts data with RSA-OAEP (SHA-256) under the given public key.
func Encrypt(data []byte, publicKey string) ([]byte, error) {
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, data, nil)
}

// Decrypt decrypts RSA-OAEP ciphertext with the given private key.
func Decrypt(ciphertext []byte, privateKey string) ([]byte, error) {
	key, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Sign returns a PKCS#1 v1.5 SHA-256 signature over data.
func Sign(data []byte, privateKey string) ([]byte, error) {
	key, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
}

// Verify reports whether signature is valid for data under the given
// public key. It never returns an error; any mismatch, including
// malformed signature or key bytes, yields false.
func Verify(data, signature []byte, publicKey string) bool {
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature) == nil
}

func parsePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return pub, nil
}

func parsePrivateKey(encoded string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid private key encoding: %w", err)
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
