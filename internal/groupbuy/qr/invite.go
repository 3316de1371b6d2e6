package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"github.com/skip2/go-qrcode"

	"ms-groupbuy/internal/models"
)

type InviteGenerator struct {
	secret []byte
}

func NewInviteGenerator(secret string) *InviteGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &InviteGenerator{secret: hashed[:]}
}

// GenerateInviteQR renders an encrypted group invite as a QR PNG. The
// payload is opaque to the holder; the storefront decrypts it on scan.
func (g *InviteGenerator) GenerateInviteQR(invite models.GroupInvite) ([]byte, error) {
	data, err := json.Marshal(invite)
	if err != nil {
		return nil, err
	}

	encrypted, err := encryptAES(data, g.secret)
	if err != nil {
		return nil, err
	}

	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

// DecodeInvite reverses the encryption for a scanned payload.
func (g *InviteGenerator) DecodeInvite(payload string) (*models.GroupInvite, error) {
	plain, err := decryptAES(payload, g.secret)
	if err != nil {
		return nil, err
	}

	var invite models.GroupInvite
	if err := json.Unmarshal(plain, &invite); err != nil {
		return nil, err
	}
	return &invite, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func decryptAES(payload string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, errors.New("invite payload too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	plain := make([]byte, len(ciphertext)-aes.BlockSize)
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(plain, ciphertext[aes.BlockSize:])

	return plain, nil
}
