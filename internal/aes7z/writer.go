package aes7z

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

var errRandom = errors.New("aes7z: error generating random bytes")

type writeCloser struct {
	wc     io.WriteCloser
	cbc    cipher.BlockMode
	buf    []byte
	closed bool
}

// Password derives the key from p, cycles and salt and sets up the CBC
// encrypter with iv. NewWriter calls it once, before any data is written;
// unlike the reader's Password it takes the key-derivation parameters as
// arguments.
func (wc *writeCloser) Password(p string, cycles int, salt, iv []byte) error {
	key, err := calculateKey(p, cycles, salt)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("aes7z: error creating cipher: %w", err)
	}

	wc.cbc = cipher.NewCBCEncrypter(block, iv)

	return nil
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	wc.buf = append(wc.buf, p...)

	n := len(wc.buf) - len(wc.buf)%aes.BlockSize

	if n > 0 {
		block := make([]byte, n)
		copy(block, wc.buf[:n])
		wc.cbc.CryptBlocks(block, block)

		if _, err := wc.wc.Write(block); err != nil {
			return 0, fmt.Errorf("aes7z: error writing block: %w", err)
		}

		wc.buf = wc.buf[n:]
	}

	return len(p), nil
}

func (wc *writeCloser) Close() error {
	if wc.closed {
		return errAlreadyClosed
	}

	wc.closed = true

	if len(wc.buf) > 0 {
		block := make([]byte, aes.BlockSize)
		copy(block, wc.buf)
		wc.cbc.CryptBlocks(block, block)

		if _, err := wc.wc.Write(block); err != nil {
			return fmt.Errorf("aes7z: error writing final block: %w", err)
		}
	}

	if err := wc.wc.Close(); err != nil {
		return fmt.Errorf("aes7z: error closing: %w", err)
	}

	return nil
}

// NewWriter returns a new AES-256-CBC & SHA-256 io.WriteCloser along with
// the property bytes to store in the folder's coder properties. cycles
// selects the SHA-256 iteration count, from 0 (fast, insecure) to 0x3f.
func NewWriter(w io.WriteCloser, password string, cycles int) (io.WriteCloser, []byte, error) {
	salt := make([]byte, 0)
	iv := make([]byte, aes.BlockSize)

	if _, err := rand.Read(iv); err != nil {
		return nil, nil, errRandom
	}

	wc := &writeCloser{wc: w}
	if err := wc.Password(password, cycles, salt, iv); err != nil {
		return nil, nil, err
	}

	// salt/iv sizes are packed as (high bit in props[0]) + (nibble in
	// props[1]); a 16-byte IV with no salt needs the overflow bit set and
	// the iv nibble at its maximum of 0xf (1 + 15 == 16).
	props := make([]byte, 2+len(salt)+len(iv))
	props[0] = byte(cycles & 0x3f) //nolint:gosec
	props[0] |= 1 << 6
	props[1] = byte(len(salt)<<4) | 0x0f
	copy(props[2:], salt)
	copy(props[2+len(salt):], iv)

	return wc, props, nil
}
