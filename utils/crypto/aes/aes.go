package aes

import (
	"bytes"
	"crypto/aes"
	"errors"
)

func Pad(data []byte, blocksize int) []byte {
	padding := blocksize - len(data)%blocksize
	if padding == 0 {
		padding = blocksize
	}
	padtext := bytes.Repeat([]byte{byte(padding)}, padding)
	return append(data, padtext...)
}

// RemovePad removes padding from data
func RemovePad(data []byte) ([]byte, error) {
	length := len(data)
	if length == 0 {
		return nil, errors.New("Invalid Padding/0")
	}
	unpadding := int(data[length-1])
	if unpadding > length || unpadding > aes.BlockSize || unpadding < 1 {
		return nil, errors.New("Invalid Padding/2")
	}
	return data[:(length - unpadding)], nil
}

// EncryptECB encrypts data with AES in ECB mode. ECB is deterministic:
// the same key and plaintext always produce the same ciphertext, which
// lets encrypted column values be matched by equality in SQL. Do not use
// it for anything that needs semantic security.
func EncryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	data = Pad(data, aes.BlockSize)
	ciphertext := make([]byte, len(data))
	for start := 0; start < len(data); start += aes.BlockSize {
		block.Encrypt(ciphertext[start:start+aes.BlockSize], data[start:start+aes.BlockSize])
	}
	return ciphertext, nil
}

// DecryptECB decrypts data produced by EncryptECB.
func DecryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.New("Invalid Ciphertext Length")
	}
	plaintext := make([]byte, len(data))
	for start := 0; start < len(data); start += aes.BlockSize {
		block.Decrypt(plaintext[start:start+aes.BlockSize], data[start:start+aes.BlockSize])
	}
	return RemovePad(plaintext)
}
