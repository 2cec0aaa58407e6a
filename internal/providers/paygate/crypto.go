package paygate

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// Signature is hex(md5("request_ref;app_secret")), sent in the Signature header
// and used to authenticate callbacks.
func Signature(requestRef, appSecret string) string {
	sum := md5.Sum([]byte(requestRef + ";" + appSecret))
	return hex.EncodeToString(sum[:])
}

// EncryptAccount encrypts an account number with AES in ECB mode and PKCS#7
// padding, base64 encoded. The key is the first 32 bytes of the configured secret.
func EncryptAccount(accountNumber, key string) (string, error) {
	k := []byte(key)
	if len(k) > 32 {
		k = k[:32]
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return "", err
	}
	if accountNumber == "" {
		return "", errors.New("account number is required")
	}

	size := block.BlockSize()
	plain := pkcs7Pad([]byte(accountNumber), size)
	out := make([]byte, len(plain))
	for i := 0; i < len(plain); i += size {
		block.Encrypt(out[i:i+size], plain[i:i+size])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}
