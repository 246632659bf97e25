package secure

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	body := []byte(`{"type":"login"}`)
	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("frame body mismatch: got %q want %q", got, body)
	}
}

func TestReadFrameShortBody(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("abcdef")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	// Truncate the body to simulate a dropped connection.
	truncated := bytes.NewReader(buf.Bytes()[:7])
	if _, err := ReadFrame(truncated); err == nil {
		t.Fatal("expected error reading truncated frame")
	}
}

func TestReadFrameOversizedHeader(t *testing.T) {
	t.Parallel()

	header := []byte{0xff, 0xff, 0xff, 0xff}
	_, err := ReadFrame(bytes.NewReader(header))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestCipherRoundTrip(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x42}, KeySize)
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	plaintext := []byte(`{"type":"sync_data","increment":50}`)
	sealed, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("sealed frame contains plaintext")
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("plaintext mismatch: got %q want %q", opened, plaintext)
	}
}

func TestCipherRejectsTampering(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x42}, KeySize)
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	sealed, err := c.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := c.Open(sealed); err == nil {
		t.Fatal("expected authentication failure for tampered frame")
	}
}

func TestCipherRejectsBadKeySize(t *testing.T) {
	t.Parallel()

	if _, err := NewCipher([]byte("short")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestHandshakeEstablishesSharedKey(t *testing.T) {
	t.Parallel()

	priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	pubPEM, err := MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	if !strings.Contains(string(pubPEM), "BEGIN PUBLIC KEY") {
		t.Fatalf("expected PEM public key, got %q", pubPEM[:30])
	}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	type result struct {
		c   *Cipher
		err error
	}
	serverCh := make(chan result, 1)
	go func() {
		c, err := ServerHandshake(serverConn, priv, pubPEM)
		serverCh <- result{c, err}
	}()

	clientCipher, err := ClientHandshake(clientConn)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	srv := <-serverCh
	if srv.err != nil {
		t.Fatalf("server handshake: %v", srv.err)
	}

	// Both sides must hold the same session key: a frame sealed by the
	// client opens on the server.
	sealed, err := clientCipher.Seal([]byte("hello"))
	if err != nil {
		t.Fatalf("client seal: %v", err)
	}
	opened, err := srv.c.Open(sealed)
	if err != nil {
		t.Fatalf("server open: %v", err)
	}
	if string(opened) != "hello" {
		t.Fatalf("unexpected plaintext %q", opened)
	}
}

func TestServerHandshakeRejectsGarbageKey(t *testing.T) {
	t.Parallel()

	priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	pubPEM, err := MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := ServerHandshake(serverConn, priv, pubPEM)
		errCh <- err
	}()

	if _, err := ReadFrame(clientConn); err != nil {
		t.Fatalf("read public key frame: %v", err)
	}
	if err := WriteFrame(clientConn, []byte("not an rsa ciphertext")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := <-errCh; err == nil {
		t.Fatal("expected handshake failure for garbage wrapped key")
	}
}
