package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"RegAlertScanner/internal/domain"
)

// ContentHash fingerprints the fields that define a candidate's semantic
// identity: source, external id, title, summary and published date.
// String values are whitespace-collapsed so cosmetic upstream formatting
// changes do not register as content changes; the published timestamp
// contributes only its date. The map marshals with sorted keys, making
// the hash independent of field ordering.
func ContentHash(c domain.NormalizedCandidate) string {
	identity := map[string]string{
		"source":         normalize(c.Source),
		"external_id":    normalize(c.ExternalID),
		"title":          normalize(c.Title),
		"summary":        normalize(c.Summary),
		"published_date": c.PublishedAt.UTC().Format("2006-01-02"),
	}

	raw, _ := json.Marshal(identity)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func normalize(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
