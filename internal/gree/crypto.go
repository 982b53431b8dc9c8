package gree

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

const (
	// GenericKey encrypts scan and bind traffic for ECB devices
	GenericKey = "a3K8Bx%2r8Y7#xDh"

	// GenericGCMKey encrypts bind traffic for GCM devices
	GenericGCMKey = "{yxAHAY_Lm6pbC/<"

	gcmTagSize = 16
)

var (
	gcmNonce = []byte{0x54, 0x40, 0x78, 0x44, 0x49, 0x67, 0x5a, 0x51, 0x6c, 0x5e, 0x63, 0x13}
	gcmAAD   = []byte("qualcomm-test")
)

// encryptECB encrypts plain with AES-128-ECB and PKCS#7 padding and returns
// the base64 "pack" value.
func encryptECB(key string, plain []byte) (string, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", NewCryptoError("invalid ECB key", err)
	}

	padded := pkcs7Pad(plain, block.BlockSize())
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], padded[i:i+block.BlockSize()])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// decryptECB reverses encryptECB. Some firmware pads with junk instead of
// PKCS#7; in that case the plaintext is cut after the last closing brace.
func decryptECB(key string, pack string) ([]byte, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, NewCryptoError("invalid ECB key", err)
	}

	data, err := base64.StdEncoding.DecodeString(pack)
	if err != nil {
		return nil, NewCryptoError("pack is not base64", err)
	}
	bs := block.BlockSize()
	if len(data) == 0 || len(data)%bs != 0 {
		return nil, NewCryptoError(fmt.Sprintf("pack length %d is not a multiple of %d", len(data), bs), nil)
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Decrypt(out[i:i+bs], data[i:i+bs])
	}

	if plain, ok := pkcs7Unpad(out, bs); ok {
		return plain, nil
	}
	if end := bytes.LastIndexByte(out, '}'); end >= 0 {
		return out[:end+1], nil
	}
	return nil, NewCryptoError("decrypted pack is not JSON (wrong key?)", nil)
}

// encryptGCM encrypts plain with AES-128-GCM using the fixed protocol nonce
// and returns the base64 ciphertext and tag separately.
func encryptGCM(key string, plain []byte) (pack string, tag string, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", "", err
	}

	sealed := aead.Seal(nil, gcmNonce, plain, gcmAAD)
	ct, t := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]
	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(t), nil
}

// decryptGCM verifies tag and decrypts pack.
func decryptGCM(key string, pack string, tag string) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ct, err := base64.StdEncoding.DecodeString(pack)
	if err != nil {
		return nil, NewCryptoError("pack is not base64", err)
	}
	t, err := base64.StdEncoding.DecodeString(tag)
	if err != nil {
		return nil, NewCryptoError("tag is not base64", err)
	}
	if len(t) != gcmTagSize {
		return nil, NewCryptoError(fmt.Sprintf("tag length %d, want %d", len(t), gcmTagSize), nil)
	}

	plain, err := aead.Open(nil, gcmNonce, append(ct, t...), gcmAAD)
	if err != nil {
		return nil, NewCryptoError("GCM authentication failed (wrong key?)", err)
	}
	return plain, nil
}

func newGCM(key string) (cipher.AEAD, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, NewCryptoError("invalid GCM key", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, len(gcmNonce))
	if err != nil {
		return nil, NewCryptoError("GCM setup failed", err)
	}
	return aead, nil
}

func pkcs7Pad(data []byte, bs int) []byte {
	n := bs - len(data)%bs
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, bs int) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > bs || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
