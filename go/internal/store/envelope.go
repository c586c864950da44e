package store

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is the snapshot envelope version written by this build.
const SchemaVersion = 1

// Envelope wraps every persisted snapshot.
type Envelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	Revision      int64           `json:"revision"`
	Payload       json.RawMessage `json:"payload"`
}

// EncodeEnvelope wraps payload at the given revision.
func EncodeEnvelope(revision int64, payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("snapshot payload cannot be empty")
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("snapshot payload is not valid JSON")
	}
	data, err := json.Marshal(Envelope{
		SchemaVersion: SchemaVersion,
		Revision:      revision,
		Payload:       payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope unwraps a stored blob. Unknown schema versions are rejected.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.SchemaVersion != SchemaVersion {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedSchema, env.SchemaVersion)
	}
	return env, nil
}
