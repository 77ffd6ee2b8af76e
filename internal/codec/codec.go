// Package codec implements the optional at-rest transform applied to message
// bodies at the storage boundary. Stored content is a discriminated value:
// either plain text or a sealed ChaCha20-Poly1305 box. The sealed form carries
// a reserved prefix so archive and state readers can tell the two apart
// without configuration, allowing mixed plaintext/sealed records to coexist
// in the same file.
package codec

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"smsrelay/internal/types"
)

// sealedPrefix tags sealed values. Plain content that happens to start with
// the prefix is escaped on encode so decode stays unambiguous.
const sealedPrefix = "sealed:v1:"

// escapedPlainPrefix marks plain content that collided with sealedPrefix.
const escapedPlainPrefix = "plain:v1:"

// KeySize is the required key length for the sealed scheme.
const KeySize = chacha20poly1305.KeySize

// Scheme identifies how a stored value is encoded.
type Scheme string

const (
	// SchemePlain stores content verbatim.
	SchemePlain Scheme = "plain"
	// SchemeSealed stores content as base64(nonce || ciphertext) under the
	// sealed prefix.
	SchemeSealed Scheme = "sealed"
)

// StoredContent is the discriminated stored form of a message body. It
// marshals to a single JSON string, so state and archive files stay readable
// and the tagged representation is the only wire format.
type StoredContent struct {
	Scheme Scheme
	Value  string // plaintext for SchemePlain, base64 payload for SchemeSealed
}

// MarshalJSON renders the tagged string form.
func (c StoredContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Tagged())
}

// UnmarshalJSON parses the tagged string form.
func (c *StoredContent) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ParseStored(raw)
	return nil
}

// Tagged renders the single-string wire form, the inverse of ParseStored.
func (c StoredContent) Tagged() string {
	switch c.Scheme {
	case SchemeSealed:
		return sealedPrefix + c.Value
	default:
		if strings.HasPrefix(c.Value, sealedPrefix) || strings.HasPrefix(c.Value, escapedPlainPrefix) {
			return escapedPlainPrefix + c.Value
		}
		return c.Value
	}
}

// ParseStored classifies a raw stored string into its discriminated form.
func ParseStored(raw string) StoredContent {
	switch {
	case strings.HasPrefix(raw, sealedPrefix):
		return StoredContent{Scheme: SchemeSealed, Value: strings.TrimPrefix(raw, sealedPrefix)}
	case strings.HasPrefix(raw, escapedPlainPrefix):
		return StoredContent{Scheme: SchemePlain, Value: strings.TrimPrefix(raw, escapedPlainPrefix)}
	default:
		return StoredContent{Scheme: SchemePlain, Value: raw}
	}
}

// Codec is the reversible transform applied to message bodies at the storage
// boundary.
type Codec interface {
	Encode(plaintext string) (StoredContent, error)
	Decode(stored StoredContent) (string, error)
}

// PlainCodec stores content verbatim. It still decodes sealed values as an
// error rather than returning ciphertext, so a misconfigured reader cannot
// mistake a sealed value for plaintext.
type PlainCodec struct{}

// Encode returns the plaintext unchanged.
func (PlainCodec) Encode(plaintext string) (StoredContent, error) {
	return StoredContent{Scheme: SchemePlain, Value: plaintext}, nil
}

// Decode returns plain values and rejects sealed ones.
func (PlainCodec) Decode(stored StoredContent) (string, error) {
	if stored.Scheme == SchemeSealed {
		return "", types.NewAppError(types.ErrCodeStateCorrupt,
			"stored content is sealed but no content key is configured", nil)
	}
	return stored.Value, nil
}

// AEADCodec seals content with ChaCha20-Poly1305. Each Encode draws a fresh
// random nonce, prepended to the ciphertext before base64 encoding.
type AEADCodec struct {
	key []byte
}

// NewAEADCodec creates an AEADCodec from a 32-byte key.
func NewAEADCodec(key []byte) (*AEADCodec, error) {
	if len(key) != KeySize {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid,
			fmt.Sprintf("content key must be %d bytes, got %d", KeySize, len(key)), nil)
	}
	return &AEADCodec{key: append([]byte(nil), key...)}, nil
}

// Encode seals the plaintext.
func (c *AEADCodec) Encode(plaintext string) (StoredContent, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return StoredContent{}, types.NewAppError(types.ErrCodeInternalUnexpected, "aead init failed", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return StoredContent{}, types.NewAppError(types.ErrCodeInternalUnexpected, "nonce generation failed", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return StoredContent{
		Scheme: SchemeSealed,
		Value:  base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// Decode opens sealed values and passes plain ones through, so archives with
// a mix of sealed and pre-encryption plaintext records stay readable.
func (c *AEADCodec) Decode(stored StoredContent) (string, error) {
	if stored.Scheme == SchemePlain {
		return stored.Value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(stored.Value)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeStateCorrupt, "sealed content is not valid base64", err)
	}

	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "aead init failed", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", types.NewAppError(types.ErrCodeStateCorrupt, "sealed content shorter than nonce", nil)
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeStateCorrupt, "sealed content failed authentication", err)
	}
	return string(plaintext), nil
}
