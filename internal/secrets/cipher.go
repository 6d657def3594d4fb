// Package secrets encrypts credential fields at rest.
//
// Values are stored as "<hex-iv>:<hex-ciphertext>" using AES-256-CBC with
// PKCS#7 padding and a fresh random IV per value. The key is the configured
// secret right-padded with spaces or truncated to 32 bytes, which keeps
// existing servers.json files readable.
package secrets

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Separator splits the IV from the ciphertext in a stored value.
const Separator = ":"

var (
	// ErrMalformed means the stored value is not in <iv>:<ct> form.
	ErrMalformed = errors.New("malformed encrypted value")

	// ErrBadPadding means the plaintext padding did not verify, usually a wrong key.
	ErrBadPadding = errors.New("invalid padding")
)

// Outcome tags how Decrypt produced its value.
type Outcome int

const (
	// Decrypted means the value was ciphertext and decrypted cleanly.
	Decrypted Outcome = iota
	// Verbatim means the input could not be decrypted and is returned unchanged.
	Verbatim
)

func (o Outcome) String() string {
	switch o {
	case Decrypted:
		return "decrypted"
	case Verbatim:
		return "verbatim"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DecryptResult carries the decrypted value and how it was obtained.
type DecryptResult struct {
	Value   string
	Outcome Outcome

	// Err is the reason a Verbatim result could not be decrypted.
	Err error
}

// Cipher encrypts and decrypts secret strings with a fixed key.
type Cipher struct {
	block cipher.Block
	rand  io.Reader
}

// NewCipher derives the 32-byte key from secret and returns a Cipher.
func NewCipher(secret string) (*Cipher, error) {
	block, err := aes.NewCipher(DeriveKey(secret))
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	return &Cipher{block: block, rand: rand.Reader}, nil
}

// DeriveKey pads secret with spaces or truncates it to KeySize bytes.
func DeriveKey(secret string) []byte {
	key := []byte(secret)
	if len(key) >= KeySize {
		return key[:KeySize]
	}
	return append(key, bytes.Repeat([]byte(" "), KeySize-len(key))...)
}

// IsEncrypted reports whether value has the shape of a stored secret: a hex
// IV of one block, the separator, and hex ciphertext of whole blocks. Such
// values must not be encrypted again.
func IsEncrypted(value string) bool {
	_, _, err := parse(value)
	return err == nil
}

// Encrypt returns "<hex-iv>:<hex-ciphertext>" for plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + Separator + hex.EncodeToString(out), nil
}

// EncryptOnce encrypts value unless it is empty or already encrypted.
func (c *Cipher) EncryptOnce(value string) (string, error) {
	if value == "" || IsEncrypted(value) {
		return value, nil
	}
	return c.Encrypt(value)
}

// Decrypt never fails: input that is not valid ciphertext under this key is
// returned verbatim with the reason attached.
func (c *Cipher) Decrypt(value string) DecryptResult {
	plain, err := c.decrypt(value)
	if err != nil {
		return DecryptResult{Value: value, Outcome: Verbatim, Err: err}
	}
	return DecryptResult{Value: plain, Outcome: Decrypted}
}

func (c *Cipher) decrypt(value string) (string, error) {
	iv, ct, err := parse(value)
	if err != nil {
		return "", err
	}

	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, ct)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func parse(value string) (iv, ct []byte, err error) {
	ivHex, ctHex, ok := strings.Cut(value, Separator)
	if !ok {
		return nil, nil, ErrMalformed
	}

	iv, err = hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, nil, fmt.Errorf("%w: bad iv", ErrMalformed)
	}
	ct, err = hex.DecodeString(ctHex)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, nil, fmt.Errorf("%w: bad ciphertext", ErrMalformed)
	}
	return iv, ct, nil
}

func pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}
