// Package idgen generates prefixed random identifiers.
//
// IDs look like "esc_3f8a9c...": a short type prefix followed by 24 hex
// characters (96 bits of crypto/rand entropy).
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

const randomBytes = 12

// WithPrefix returns prefix + 24 hex chars. The prefix names the record
// type ("esc_", "led_", "dsp_", "pay_", "job_") so identifiers are
// self-describing in logs and API payloads.
func WithPrefix(prefix string) string {
	var b [randomBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("idgen: crypto/rand unavailable: " + err.Error())
	}
	return prefix + hex.EncodeToString(b[:])
}
