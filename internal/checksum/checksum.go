// Package checksum computes content digests used for ETags and load fingerprints.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/starford/taskloader/internal/models"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Tasks returns a digest of the JSON encoding of tasks. The digest depends on
// order, so callers pass tasks sorted by ID.
func Tasks(tasks []models.Task) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, t := range tasks {
		if err := enc.Encode(t); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
