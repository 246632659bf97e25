// Package secure implements the session-layer crypto: an RSA-2048 handshake
// that unwraps a per-connection AES-256-GCM key, and the frame cipher used
// for everything after the handshake.
//
// Wire layout after the handshake: every frame body is
// 12-byte nonce || AES-256-GCM ciphertext of a UTF-8 JSON object.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
)

const (
	rsaBits    = 2048
	KeySize    = 32 // AES-256
	nonceSize  = 12
	pemKeyType = "PUBLIC KEY"
)

// GenerateKeyPair creates the process-lifetime RSA keypair. There is no
// long-term certificate store; a fresh pair is generated on every start.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa keypair: %w", err)
	}
	return key, nil
}

// MarshalPublicKey encodes the public half as PEM (SubjectPublicKeyInfo),
// the handshake anchor sent in the clear.
func MarshalPublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemKeyType, Bytes: der}), nil
}

// ParsePublicKey decodes a PEM-encoded RSA public key.
func ParsePublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key data")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want *rsa.PublicKey", pub)
	}
	return rsaPub, nil
}

// Cipher seals and opens frame bodies with one AES-256-GCM session key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a frame cipher from a 32-byte session key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("session key is %d bytes, want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext into nonce||ciphertext with a fresh random nonce.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(out[:nonceSize]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(out, out[:nonceSize], plaintext, nil), nil
}

// Open decrypts nonce||ciphertext. Any tampering fails authentication.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt frame: %w", err)
	}
	return plaintext, nil
}

// ServerHandshake runs the accept-side key exchange on rw: send the PEM
// public key as one frame, read back the RSA-OAEP-wrapped session key,
// unwrap it, and return the frame cipher. Any failure means the connection
// must be closed without reply.
func ServerHandshake(rw io.ReadWriter, key *rsa.PrivateKey, pubPEM []byte) (*Cipher, error) {
	if err := WriteFrame(rw, pubPEM); err != nil {
		return nil, fmt.Errorf("send public key: %w", err)
	}
	wrapped, err := ReadFrame(rw)
	if err != nil {
		return nil, fmt.Errorf("read wrapped session key: %w", err)
	}
	sessionKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap session key: %w", err)
	}
	return NewCipher(sessionKey)
}

// ClientHandshake runs the dial-side key exchange: read the server's PEM
// public key, generate a random session key, wrap it with RSA-OAEP and send
// it. Used by the in-repo test client.
func ClientHandshake(rw io.ReadWriter) (*Cipher, error) {
	pemData, err := ReadFrame(rw)
	if err != nil {
		return nil, fmt.Errorf("read server public key: %w", err)
	}
	pub, err := ParsePublicKey(pemData)
	if err != nil {
		return nil, err
	}
	sessionKey := make([]byte, KeySize)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap session key: %w", err)
	}
	if err := WriteFrame(rw, wrapped); err != nil {
		return nil, fmt.Errorf("send wrapped session key: %w", err)
	}
	return NewCipher(sessionKey)
}
