// Package idgen generates the identifiers used across the system: compact
// time-ordered ids for held messages and high-entropy bearer tokens for
// moderation links.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// instanceID distinguishes concurrently running daemons.
	instanceID [3]byte
	// sequence disambiguates ids generated within the same second.
	sequence uint32

	base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

func init() {
	if _, err := rand.Read(instanceID[:]); err != nil {
		// crypto/rand failing is unrecoverable anyway; fall back to time.
		binary.BigEndian.PutUint16(instanceID[:2], uint16(time.Now().UnixNano()))
	}
}

// New returns a 12-byte id encoded as ~20 lowercase base32 characters:
// 4 bytes of unix timestamp, 3 bytes of instance id, 2 bytes of sequence
// and 3 bytes of randomness. Ids generated on one instance sort roughly
// by creation time.
func New() string {
	var id [12]byte

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:7], instanceID[:])

	seq := atomic.AddUint32(&sequence, 1)
	binary.BigEndian.PutUint16(id[7:9], uint16(seq))

	rand.Read(id[9:12])

	return strings.ToLower(base32Encoding.EncodeToString(id[:]))
}

// NewToken returns a URL-safe bearer secret with 256 bits of entropy, used
// for moderation links. The value carries no structure; its only property is
// unguessability.
func NewToken() string {
	var secret [32]byte
	rand.Read(secret[:])
	return base64.RawURLEncoding.EncodeToString(secret[:])
}
