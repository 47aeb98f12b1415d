package processor

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"escalation/internal/domain"
)

// BuildAlertID builds a deterministic alert id in the alert namespace.
// Params: normalized intake record and intake timestamp.
// Returns: formatted alert ID, stable for identical inputs.
func BuildAlertID(record domain.IntakeRecord, createdAt time.Time) string {
	canonical := make([]byte, 0, len(record.Name)+len(record.System)+32)
	canonical = append(canonical, "name="...)
	canonical = append(canonical, record.Name...)
	canonical = append(canonical, "\nsystem="...)
	canonical = append(canonical, record.System...)
	canonical = append(canonical, "\nts="...)
	canonical = strconv.AppendInt(canonical, createdAt.UnixNano(), 10)
	digest := sha1.Sum(canonical)
	var hashValue [sha1.Size * 2]byte
	hex.Encode(hashValue[:], digest[:])

	systemToken := sanitize(record.System)
	nameToken := sanitize(record.Name)
	var builder strings.Builder
	builder.Grow(len("alert/") + len(systemToken) + len(nameToken) + len(hashValue) + 2)
	builder.WriteString("alert/")
	builder.WriteString(systemToken)
	builder.WriteByte('/')
	builder.WriteString(nameToken)
	builder.WriteByte('/')
	builder.Write(hashValue[:])
	return builder.String()
}

// shortRef derives a compact reference token from one alert id.
// Params: alert id and token length.
// Returns: hex token used in generated incident/ticket identifiers.
func shortRef(alertID string, length int) string {
	digest := sha1.Sum([]byte(alertID))
	encoded := hex.EncodeToString(digest[:])
	if length > len(encoded) {
		length = len(encoded)
	}
	return strings.ToUpper(encoded[:length])
}

// sanitize converts key path fragments into stable bucket-safe tokens.
// Params: raw value with possible separators.
// Returns: sanitized string with unsupported chars replaced by underscore.
func sanitize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
