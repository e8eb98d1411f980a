package models

import (
	"encoding/json"
	"time"
)

// EncryptedField is the envelope produced for a single encrypted PII value.
// AuthTag is the AES-GCM tag computed over (ciphertext, iv) and the field
// name as additional authenticated data; decryption recombines and verifies
// it before any plaintext is released.
type EncryptedField struct {
	Ciphertext []byte    `json:"ciphertext"`
	IV         []byte    `json:"iv"`
	AuthTag    []byte    `json:"auth_tag"`
	KeyVersion int       `json:"key_version"`
	FieldName  string    `json:"field_name"`
	Timestamp  time.Time `json:"timestamp"`
}

// Marshal serializes the field for column storage.
func (f *EncryptedField) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalEncryptedField parses a stored envelope.
func UnmarshalEncryptedField(data []byte) (*EncryptedField, error) {
	var f EncryptedField
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// KeyVersion holds the derivation parameters for one data-key version.
// Rows are append-only: old versions must remain derivable indefinitely so
// historical ciphertexts stay decryptable. Derived key material is never
// persisted, only cached in process memory.
type KeyVersion struct {
	Version        int       `db:"version"`
	DerivationSalt []byte    `db:"derivation_salt"`
	Iterations     int       `db:"iterations"`
	CreatedAt      time.Time `db:"created_at"`
}
