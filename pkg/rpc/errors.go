package rpc

import (
	"net/http"

	"swarmstore/pkg/swarm"
)

// Kind is the closed set of error kinds a request can fail with.
type Kind string

const (
	BadRequest        Kind = "bad_request"
	InvalidPubkey     Kind = "invalid_pubkey"
	InvalidNamespace  Kind = "invalid_namespace"
	InvalidTimestamp  Kind = "invalid_timestamp"
	InvalidSignature  Kind = "invalid_signature"
	WrongSwarm        Kind = "wrong_swarm"
	PayloadTooLarge   Kind = "payload_too_large"
	CapacityExceeded  Kind = "capacity_exceeded"
	Duplicate         Kind = "duplicate"
	NotFound          Kind = "not_found"
	RateLimited       Kind = "rate_limited"
	InternalError     Kind = "internal_error"
)

// Error is the error type returned across the RPC boundary.
type Error struct {
	Kind   Kind
	Detail string
	// Swarm carries the correct swarm id and peer list for a WrongSwarm
	// error, so a client bounced off this node can find the right one.
	// Nil for every other error kind.
	Swarm *SwarmInfo
}

// SwarmInfo names the swarm an account belongs to and the peers that
// serve it, surfaced on a wrong_swarm response over both transports.
type SwarmInfo struct {
	SwarmID swarm.SwarmID
	Peers   []swarm.NodeRecord
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

func NewError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// NewWrongSwarmError builds a WrongSwarm error carrying the account's
// correct swarm id and known peers, so the caller can retry against them.
func NewWrongSwarmError(detail string, info SwarmInfo) *Error {
	return &Error{Kind: WrongSwarm, Detail: detail, Swarm: &info}
}

// httpStatus maps each error kind to the HTTP status named in the error
// handling design.
var httpStatus = map[Kind]int{
	BadRequest:       http.StatusBadRequest,
	InvalidPubkey:    http.StatusUnauthorized,
	InvalidNamespace: http.StatusUnauthorized,
	InvalidTimestamp: http.StatusUnauthorized,
	InvalidSignature: http.StatusUnauthorized,
	RateLimited:      http.StatusTooManyRequests,
	WrongSwarm:       421,
	CapacityExceeded: http.StatusInsufficientStorage,
	Duplicate:        http.StatusConflict,
	NotFound:         http.StatusNotFound,
	InternalError:    http.StatusInternalServerError,
}

// HTTPStatus returns the status code an error kind maps to over HTTP.
func HTTPStatus(k Kind) int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}
