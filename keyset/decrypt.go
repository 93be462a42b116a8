package keyset

import (
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Default algorithms accepted when decrypting assertions
var (
	DefaultKeyAlgorithms = []jose.KeyAlgorithm{
		jose.RSA_OAEP, jose.RSA_OAEP_256,
		jose.ECDH_ES, jose.ECDH_ES_A128KW, jose.ECDH_ES_A192KW, jose.ECDH_ES_A256KW,
	}
	DefaultContentEncryption = []jose.ContentEncryption{
		jose.A128GCM, jose.A192GCM, jose.A256GCM,
		jose.A128CBC_HS256, jose.A192CBC_HS384, jose.A256CBC_HS512,
	}
)

// Decrypter opens compact JWE tokens with the server's private keys.
type Decrypter struct {
	keys              jose.JSONWebKeySet
	keyAlgorithms     []jose.KeyAlgorithm
	contentEncryption []jose.ContentEncryption
}

// NewDecrypter creates a decrypter. Empty algorithm lists select the defaults.
func NewDecrypter(keys jose.JSONWebKeySet, keyAlgorithms []jose.KeyAlgorithm, contentEncryption []jose.ContentEncryption) *Decrypter {
	if len(keyAlgorithms) == 0 {
		keyAlgorithms = DefaultKeyAlgorithms
	}
	if len(contentEncryption) == 0 {
		contentEncryption = DefaultContentEncryption
	}
	return &Decrypter{keys: keys, keyAlgorithms: keyAlgorithms, contentEncryption: contentEncryption}
}

// Decrypt returns the plaintext of token
func (d *Decrypter) Decrypt(token string) ([]byte, error) {
	jwe, err := jose.ParseEncrypted(token, d.keyAlgorithms, d.contentEncryption)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWE: %w", err)
	}

	candidates := d.keys.Keys
	if kid := jwe.Header.KeyID; kid != "" {
		candidates = d.keys.Key(kid)
	}
	for _, key := range candidates {
		if key.IsPublic() {
			continue
		}
		if plaintext, err := jwe.Decrypt(key.Key); err == nil {
			return plaintext, nil
		}
	}
	return nil, errors.New("no key could decrypt the token")
}
