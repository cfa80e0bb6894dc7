package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sequential formats a generated artifact id such as req-0001.
// index is 1-based; values above 9999 keep all their digits.
func Sequential(prefix string, index int) string {
	return fmt.Sprintf("%s-%04d", prefix, index)
}

// Artifact id prefixes
const (
	PrefixRequirement = "req"
	PrefixAcceptance  = "ac"
	PrefixImpact      = "ia"
	PrefixTask        = "task"
)

// New returns a random identifier for sessions, runs and events
func New() string {
	return uuid.New().String()
}

// Execution returns an identifier for a batch of task runs
func Execution(now time.Time) string {
	return fmt.Sprintf("exec-%s-%s", now.UTC().Format("20060102-150405"), uuid.New().String()[:8])
}

// CanonicalJSON converts a value to deterministic JSON. Struct values are
// first flattened to generic maps so that key order depends only on the
// key names, never on field declaration order.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}

	// encoding/json writes map keys in sorted order
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return out, nil
}

// Fingerprint returns a short stable digest of v's canonical JSON.
// Used to name output schema files and to tag runs in logs.
func Fingerprint(v any) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}
