package vault

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/betbot/unitrade/internal/domain"
)

// Credential is decrypted exchange key material. Fields are byte slices so
// Wipe can zero them; never store a Credential in a struct field.
type Credential struct {
	APIKey     []byte `json:"k"`
	APISecret  []byte `json:"s"`
	Passphrase []byte `json:"p,omitempty"`
}

// Wipe zeroes every field.
func (c *Credential) Wipe() {
	if c == nil {
		return
	}
	wipe(c.APIKey)
	wipe(c.APISecret)
	wipe(c.Passphrase)
}

// EncryptedCredential is the at-rest form of a Credential.
type EncryptedCredential struct {
	Ciphertext []byte    `json:"ciphertext"`
	Algorithm  string    `json:"algorithm"`
	CreatedAt  time.Time `json:"created_at"`
}

// Seal encrypts a credential.
func (v *Vault) Seal(c Credential) (EncryptedCredential, error) {
	if len(c.APIKey) == 0 || len(c.APISecret) == 0 {
		return EncryptedCredential{}, domain.NewError(domain.KindValidation, "", "api key and secret are required")
	}
	plain, err := json.Marshal(c)
	if err != nil {
		return EncryptedCredential{}, domain.CryptoError(err, "encode credential")
	}
	defer wipe(plain)
	ct, err := v.seal(plain)
	if err != nil {
		return EncryptedCredential{}, err
	}
	return EncryptedCredential{Ciphertext: ct, Algorithm: Algorithm, CreatedAt: v.now().UTC()}, nil
}

// Open decrypts a credential. The caller owns the result and must Wipe it;
// prefer WithCredential.
func (v *Vault) Open(enc EncryptedCredential) (*Credential, error) {
	if enc.Algorithm != Algorithm {
		return nil, domain.CryptoError(nil, fmt.Sprintf("unsupported algorithm %q", enc.Algorithm))
	}
	plain, err := v.open(enc.Ciphertext)
	if err != nil {
		return nil, err
	}
	defer wipe(plain)
	var c Credential
	if err := json.Unmarshal(plain, &c); err != nil {
		return nil, domain.CryptoError(err, "decode credential")
	}
	return &c, nil
}

// WithCredential decrypts enc, hands the plaintext to fn and wipes it once fn
// returns or panics.
func (v *Vault) WithCredential(enc EncryptedCredential, fn func(*Credential) error) error {
	cred, err := v.Open(enc)
	if err != nil {
		return err
	}
	defer cred.Wipe()
	return fn(cred)
}
