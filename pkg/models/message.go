// Package models defines the data shapes shared across the storage,
// authentication and wire layers.
package models

import "fmt"

// AccountSize is the fixed length of an account identifier: one network
// prefix byte plus a 32-byte key.
const AccountSize = 33

// HashSize is the length of a message content digest.
const HashSize = 32

// Account is a 33-byte account identifier (1-byte network prefix + 32-byte key).
type Account [AccountSize]byte

// SessionPrefix marks account ids that are X25519-derived Session IDs
// rather than direct Ed25519 pubkeys.
const SessionPrefix = 0x05

func (a Account) String() string {
	return fmt.Sprintf("%x", a[:])
}

// Prefix returns the account's network prefix byte.
func (a Account) Prefix() byte { return a[0] }

// Hash is a 32-byte content digest.
type Hash [HashSize]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// IsZero reports whether h is the zero hash (used as a "since none" sentinel).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Namespace is a signed 16-bit sub-addressing tag within an account.
type Namespace int16

// Message represents a single stored payload, addressed by hash within
// an account/namespace pair.
type Message struct {
	Hash        Hash
	Account     Account
	Namespace   Namespace
	Data        []byte
	TimestampMs int64
	ExpiryMs    int64
}

// MaxDataSize is the maximum permitted length of Message.Data.
const MaxDataSize = 76800

// DefaultTTLMs is the maximum expiry window for most namespaces.
const DefaultTTLMs = 30 * 24 * 60 * 60 * 1000

// DuplicatePolicy controls store() behavior on a colliding hash.
type DuplicatePolicy int

const (
	// DuplicateFail returns an error on a colliding hash.
	DuplicateFail DuplicatePolicy = iota
	// DuplicateIgnore keeps the existing row and reports success.
	DuplicateIgnore
)

// Subscription is a live, in-memory push-notification registration.
type Subscription struct {
	Account    Account
	Namespaces []Namespace // sorted, unique
	Connection Connection
	WantData   bool
	Expiry     int64 // unix ms
}

// Connection identifies the outbound channel a notification is delivered on.
// The wire layer implements it; the monitor registry only sends on it.
type Connection interface {
	// ID uniquely identifies the connection for subscription coalescing.
	ID() string
	// Send delivers a single encoded notification envelope. Implementations
	// must not block; a full buffer drops the notification.
	Send(envelope []byte) bool
}

// CoalesceKey identifies subscriptions that should be merged into one entry.
type CoalesceKey struct {
	Account    Account
	NamespaceKey string // sorted, comma-joined namespace list
	WantData   bool
}
