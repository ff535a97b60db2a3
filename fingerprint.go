package edgeguard

import (
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/blake2b"
)

// unknownHeader substitutes for absent fingerprint headers so malformed
// requests still land in a stable bucket instead of failing.
const unknownHeader = "unknown"

// fingerprintHeaders digests the normalized client-identifying headers into a
// stable 16-character hex string. Identical normalized inputs always produce
// the same digest; changing any contributing header changes it with high
// probability.
func fingerprintHeaders(userAgent, accept, acceptLanguage string) string {
	var b strings.Builder
	b.WriteString(normalizeHeader(userAgent))
	b.WriteByte('\n')
	b.WriteString(normalizeHeader(accept))
	b.WriteByte('\n')
	b.WriteString(normalizeHeader(acceptLanguage))

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

func normalizeHeader(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return unknownHeader
	}
	return value
}

// Fingerprint derives the request fingerprint from the live request headers.
func (d *DDoSProtection) Fingerprint(c *fiber.Ctx) string {
	return fingerprintHeaders(
		c.Get(fiber.HeaderUserAgent),
		c.Get(fiber.HeaderAccept),
		c.Get(fiber.HeaderAcceptLanguage),
	)
}
