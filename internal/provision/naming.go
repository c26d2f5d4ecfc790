package provision

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Postgres identifiers are truncated at 63 bytes; names must stay
// under that after the prefix is applied.
const maxIdentifierLen = 63

// nameTagLen is the hex length of the hash tail appended to over-limit
// names.
const nameTagLen = 8

// Sanitize maps a tenant id to the identifier fragment used in its
// physical database name. The mapping is stable: the same id always
// yields the same fragment, so a crashed provisioning run can
// rediscover its database. Anything outside [a-z0-9_] becomes an
// underscore.
func Sanitize(tenantID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tenantID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// PhysicalName derives the physical database name for a tenant id.
// Names that would exceed the identifier limit keep a stable hash of
// the full name in their tail, so distinct ids never share a database.
func PhysicalName(prefix, tenantID string) string {
	name := prefix + Sanitize(tenantID)
	if len(name) <= maxIdentifierLen {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	tag := hex.EncodeToString(sum[:])[:nameTagLen]
	return name[:maxIdentifierLen-nameTagLen-1] + "_" + tag
}
