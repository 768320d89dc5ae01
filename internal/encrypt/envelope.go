package encrypt

import (
	"encoding/json"
	"fmt"
)

// Envelope is the self-describing output of one authenticated encryption
// call: ciphertext, the per-call IV, and the GCM authentication tag. It
// carries no external state; everything needed to decrypt (besides the
// master key) is inside.
type Envelope struct {
	Data []byte `json:"data"`
	IV   []byte `json:"iv"`
	Tag  []byte `json:"tag"`
}

// Marshal serializes the envelope to its on-disk JSON form.
func (e Envelope) Marshal() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(raw), nil
}

// UnmarshalEnvelope parses a serialized envelope. It validates shape only;
// authenticity is checked at decryption time.
func UnmarshalEnvelope(s string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if len(e.IV) == 0 || len(e.Tag) == 0 {
		return Envelope{}, fmt.Errorf("unmarshal envelope: missing iv or tag")
	}
	return e, nil
}
