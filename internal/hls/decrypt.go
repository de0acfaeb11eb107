package hls

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// DeriveIV builds the 128-bit IV used when a KeyInfo carries no explicit
// IV attribute: the MSN, big-endian, in the low 8 bytes, per spec.md
// §4.10.
func DeriveIV(msn uint64) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint64(iv[8:], msn)
	return iv
}

// Decrypt decrypts ciphertext with AES-128-CBC under keyBytes (the
// resolved contents of key.URI, supplied by the caller's key cache) and
// strips PKCS#7 padding. A KeyMethodNone key (or a nil key) is treated
// as "no decryption needed" and ciphertext is returned unchanged,
// zero-copy, per SPEC_FULL.md's resolution of spec.md's open question
// about KeyMethod::None.
func Decrypt(key *KeyInfo, keyBytes []byte, msn uint64, ciphertext []byte) ([]byte, error) {
	if key == nil || key.Method == KeyMethodNone || key.Method == "" {
		return ciphertext, nil
	}
	if key.Method != KeyMethodAES128 {
		return nil, fmt.Errorf("hls: unsupported key method %q", key.Method)
	}
	return decryptAES128CBC(keyBytes, ivFor(key, msn), ciphertext)
}

func ivFor(key *KeyInfo, msn uint64) []byte {
	if len(key.IV) == 16 {
		return key.IV
	}
	return DeriveIV(msn)
}

func decryptAES128CBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("hls: AES-128 key must be 16 bytes, got %d", len(key))
	}
	if len(ciphertext) == 0 {
		return ciphertext, nil
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("hls: ciphertext length %d is not a multiple of the AES block size", len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("hls: constructing AES cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return stripPKCS7(plaintext)
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, fmt.Errorf("hls: invalid PKCS#7 padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("hls: invalid PKCS#7 padding")
		}
	}
	return data[:len(data)-pad], nil
}
