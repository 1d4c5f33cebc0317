// Package monitor implements the push-notification subscription engine
// (C5): a multi-map of live subscriptions, fanning out a notification
// envelope on every successful store.
package monitor

import (
	"crypto/ed25519"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"swarmstore/pkg/auth"
	"swarmstore/pkg/bt"
	"swarmstore/pkg/models"
)

// OutcomeCode enumerates the per-entry subscribe() results named in the
// wire interfaces.
type OutcomeCode int

const (
	Success OutcomeCode = 0

	ErrBadArgs      OutcomeCode = 1
	ErrBadPubkey    OutcomeCode = 2
	ErrBadNamespace OutcomeCode = 3
	ErrBadTimestamp OutcomeCode = 4
	ErrBadSig       OutcomeCode = 5
	ErrWrongSwarm   OutcomeCode = 6
)

// DefaultSubscriptionTTL is the lifetime granted to a fresh subscription;
// clients are expected to refresh within 60 minutes of it.
const DefaultSubscriptionTTL = 65 * time.Minute

// Request is one entry of a subscribe() call (the request body is either
// a single dict or a list of dicts; callers submit them one at a time).
type Request struct {
	PubKey      ed25519.PublicKey
	Subkey      []byte
	Account     models.Account
	Namespaces  []models.Namespace
	WantData    bool
	TimestampS  int64
	Signature   []byte
	Connection  models.Connection
}

// Outcome is the per-entry subscribe() result.
type Outcome struct {
	Code   OutcomeCode
	Expiry int64 // unix ms, set only on Success
}

// SwarmChecker reports whether an account belongs to this node, used to
// produce the wrong_swarm outcome without importing pkg/swarm directly.
type SwarmChecker interface {
	IsLocal(models.Account) bool
}

type entry struct {
	sub    models.Subscription
	connID string
}

// Registry holds live subscriptions, one read-lock acquisition per store.
type Registry struct {
	mu        sync.RWMutex
	byAccount map[models.Account][]*entry

	authr *auth.Authenticator
	swarm SwarmChecker
	log   *zap.Logger
	now   func() time.Time
}

// New constructs an empty Registry.
func New(authr *auth.Authenticator, swarm SwarmChecker, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		byAccount: make(map[models.Account][]*entry),
		authr:     authr,
		swarm:     swarm,
		log:       log,
		now:       time.Now,
	}
}

func normalizeNamespaces(ns []models.Namespace) []models.Namespace {
	if len(ns) == 0 {
		return nil
	}
	out := append([]models.Namespace{}, ns...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	dedup := out[:1]
	for _, v := range out[1:] {
		if v != dedup[len(dedup)-1] {
			dedup = append(dedup, v)
		}
	}
	return dedup
}

func namespaceKey(ns []models.Namespace) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(int(n))
	}
	return strings.Join(parts, ",")
}

// Subscribe validates and registers a single subscription request.
func (r *Registry) Subscribe(req Request) Outcome {
	if req.Connection == nil {
		return Outcome{Code: ErrBadArgs}
	}
	if len(req.PubKey) == 0 {
		return Outcome{Code: ErrBadPubkey}
	}
	namespaces := normalizeNamespaces(req.Namespaces)
	if len(namespaces) == 0 {
		return Outcome{Code: ErrBadNamespace}
	}
	if r.authr != nil {
		if err := r.authr.CheckTimestamp(req.TimestampS); err != nil {
			return Outcome{Code: ErrBadTimestamp}
		}
	}
	if r.swarm != nil && !r.swarm.IsLocal(req.Account) {
		return Outcome{Code: ErrWrongSwarm}
	}
	if r.authr != nil {
		canonical := (auth.Canonical{}).Monitor(req.Account, req.TimestampS, req.WantData, namespaces)
		if err := r.authr.Verify(req.PubKey, req.Subkey, canonical, req.Signature); err != nil {
			return Outcome{Code: ErrBadSig}
		}
	}

	now := r.now()
	expiry := now.Add(DefaultSubscriptionTTL).UnixMilli()
	nsKey := namespaceKey(namespaces)

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.byAccount[req.Account]
	for _, e := range entries {
		if e.connID == req.Connection.ID() && namespaceKey(e.sub.Namespaces) == nsKey && e.sub.WantData == req.WantData {
			e.sub.Expiry = expiry
			e.sub.Connection = req.Connection
			return Outcome{Code: Success, Expiry: expiry}
		}
	}

	r.byAccount[req.Account] = append(entries, &entry{
		sub: models.Subscription{
			Account:    req.Account,
			Namespaces: namespaces,
			Connection: req.Connection,
			WantData:   req.WantData,
			Expiry:     expiry,
		},
		connID: req.Connection.ID(),
	})
	return Outcome{Code: Success, Expiry: expiry}
}

// SubscribeAll processes a list of subscribe requests, mirroring the
// input shape in the output order.
func (r *Registry) SubscribeAll(reqs []Request) []Outcome {
	out := make([]Outcome, len(reqs))
	for i, req := range reqs {
		out[i] = r.Subscribe(req)
	}
	return out
}

// UnsubscribeExpired purges every subscription whose expiry has passed.
// Called opportunistically on store or on a timer.
func (r *Registry) UnsubscribeExpired(nowMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for acct, entries := range r.byAccount {
		live := entries[:0]
		for _, e := range entries {
			if e.sub.Expiry > nowMs {
				live = append(live, e)
			}
		}
		if len(live) == 0 {
			delete(r.byAccount, acct)
		} else {
			r.byAccount[acct] = live
		}
	}
}

// Notify fans a stored message out to every live, matching subscription.
// It is called by the request handler after a successful, durably
// committed store. Delivery is best-effort: connection-send failures
// silently drop the single notification without removing the subscription.
func (r *Registry) Notify(m models.Message) {
	nowMs := r.now().UnixMilli()

	r.mu.RLock()
	entries := r.byAccount[m.Account]
	targets := make([]*entry, 0, len(entries))
	for _, e := range entries {
		if e.sub.Expiry <= nowMs {
			continue
		}
		for _, ns := range e.sub.Namespaces {
			if ns == m.Namespace {
				targets = append(targets, e)
				break
			}
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	for _, e := range targets {
		envelope, err := encodeEnvelope(m, e.sub.WantData)
		if err != nil {
			r.log.Warn("notify_encode_failed", zap.Error(err))
			continue
		}
		if !e.sub.Connection.Send(envelope) {
			r.log.Debug("notify_dropped", zap.String("account", m.Account.String()))
		}
	}
}

// encodeEnvelope builds the bencoded notify.message dict, keys in ASCII
// sorted order: @, h, n, t, z, and ~d when want_data is set.
func encodeEnvelope(m models.Message, wantData bool) ([]byte, error) {
	dict := map[string]bt.Value{
		"@": append([]byte{}, m.Account[:]...),
		"h": append([]byte{}, m.Hash[:]...),
		"n": int64(m.Namespace),
		"t": m.TimestampMs,
		"z": m.ExpiryMs,
	}
	if wantData {
		dict["~d"] = append([]byte{}, m.Data...)
	}
	return bt.Encode(dict)
}
