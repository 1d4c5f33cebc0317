// Package rpc implements the request handler (C4): argument decoding,
// swarm-membership routing, authentication, and dispatch of the fixed
// method table against the message store and monitor registry.
package rpc

import (
	"context"
	"crypto/ed25519"
	"time"

	"go.uber.org/zap"

	"swarmstore/pkg/auth"
	"swarmstore/pkg/bt"
	"swarmstore/pkg/hash"
	"swarmstore/pkg/models"
	"swarmstore/pkg/monitor"
	"swarmstore/pkg/store"
	"swarmstore/pkg/swarm"
	"swarmstore/pkg/telemetry"
)

// NodeVersion is reported by the public "info" method.
type NodeVersion struct {
	Version       string
	HardForkLevel int
}

// RetentionClass maps a namespace range to the maximum ttl permitted for
// messages in that range, the injected table named in spec.md §9(b).
type RetentionClass struct {
	NamespaceMin models.Namespace
	NamespaceMax models.Namespace
	MaxTTL       time.Duration
}

func (c RetentionClass) contains(ns models.Namespace) bool {
	return ns >= c.NamespaceMin && ns <= c.NamespaceMax
}

// Forwarder issues a method call to a peer node on behalf of an off-swarm
// request, returning the peer's decoded response verbatim. Implemented by
// the wire transport layer (C7); the handler never forwards itself once
// forwarded=true was already set by the caller.
type Forwarder interface {
	Forward(ctx context.Context, peer swarm.NodeRecord, method string, args Args) (Args, error)
}

// Request is one decoded call arriving at the handler, already reduced to
// a uniform key->value mapping by the transport's JSON/bencode front end.
type Request struct {
	Method     string
	Args       Args
	Connection models.Connection // set only for "monitor"; nil otherwise
	ClientID   string            // transport-level source identity, for public rate limiting
	Forwarded  bool
}

// Handler is the request handler (C4).
type Handler struct {
	Store     *store.Store
	Authr     *auth.Authenticator
	Router    *swarm.Router
	Monitor   *monitor.Registry
	Limits    *RateLimits
	Forwarder Forwarder
	Retention []RetentionClass
	Version   NodeVersion
	Log       *zap.Logger
	Telemetry *telemetry.Recorder

	now func() time.Time
}

// New constructs a Handler wiring together the already-constructed
// components; nil Forwarder is fine for a single-swarm deployment that
// never needs to forward off-swarm requests. A nil Telemetry recorder
// disables metrics recording.
func New(st *store.Store, authr *auth.Authenticator, router *swarm.Router, mon *monitor.Registry, limits *RateLimits, fwd Forwarder, retention []RetentionClass, version NodeVersion, rec *telemetry.Recorder, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if limits == nil {
		limits = NewRateLimits()
	}
	return &Handler{
		Store: st, Authr: authr, Router: router, Monitor: mon,
		Limits: limits, Forwarder: fwd, Retention: retention, Version: version,
		Telemetry: rec, Log: log, now: time.Now,
	}
}

type methodInfo struct {
	public bool
	run    func(h *Handler, ctx context.Context, req Request) (Args, *Error)
}

var methods = map[string]methodInfo{
	"store":      {public: false, run: (*Handler).doStore},
	"retrieve":   {public: false, run: (*Handler).doRetrieve},
	"delete":     {public: false, run: (*Handler).doDelete},
	"delete_all": {public: false, run: (*Handler).doDeleteAll},
	"expire":     {public: false, run: (*Handler).doExpire},
	"get_swarm":  {public: true, run: (*Handler).doGetSwarm},
	"info":       {public: true, run: (*Handler).doInfo},
	"monitor":    {public: false, run: (*Handler).doMonitor},
}

// Dispatch runs the full C4 algorithm: rate limiting, swarm routing,
// authentication, and method execution. Its result is the decoded
// response mapping; the transport layer encodes it into the request's
// wire format (JSON or bencode).
func (h *Handler) Dispatch(ctx context.Context, req Request) (Args, *Error) {
	start := h.now()
	result, rerr := h.dispatch(ctx, req)
	if h.Telemetry != nil {
		outcome := "ok"
		if rerr != nil {
			outcome = string(rerr.Kind)
		}
		h.Telemetry.Observe(req.Method, outcome, h.now().Sub(start))
	}
	return result, rerr
}

func (h *Handler) dispatch(ctx context.Context, req Request) (Args, *Error) {
	info, ok := methods[req.Method]
	if !ok {
		return nil, NewError(BadRequest, "unknown method "+req.Method)
	}

	if info.public {
		if !h.Limits.Public.Allow(req.ClientID) {
			if h.Telemetry != nil {
				h.Telemetry.RateLimited("public")
			}
			return nil, NewError(RateLimited, "public rate limit exceeded")
		}
		return info.run(h, ctx, req)
	}

	account, err := argAccount(req.Args, "account")
	if err != nil {
		return nil, err
	}

	if h.Router != nil && !h.Router.IsLocal(account) {
		swarmInfo := SwarmInfo{SwarmID: h.Router.SwarmOf(account), Peers: h.Router.PeersOf(account)}
		if req.Forwarded {
			return nil, NewWrongSwarmError("account not served by this swarm", swarmInfo)
		}
		if h.Forwarder == nil {
			return nil, NewWrongSwarmError("no forwarder configured", swarmInfo)
		}
		peers := swarmInfo.Peers
		if len(peers) == 0 {
			return nil, NewWrongSwarmError("no known peers for account's swarm", swarmInfo)
		}
		resp, ferr := h.Forwarder.Forward(ctx, peers[0], req.Method, req.Args)
		if ferr != nil {
			return nil, NewError(InternalError, ferr.Error())
		}
		return resp, nil
	}

	if !h.Limits.Authenticated.Allow(account.String()) {
		if h.Telemetry != nil {
			h.Telemetry.RateLimited("authenticated")
		}
		return nil, NewError(RateLimited, "authenticated rate limit exceeded")
	}

	return info.run(h, ctx, req)
}

// authenticate resolves pubkey/subkey/signature/timestamp from args,
// checks the timestamp bound, and verifies the signature against the
// canonical string the caller supplies.
func (h *Handler) authenticate(a Args, canonical string) (ed25519.PublicKey, error) {
	pub, ok := argBytes(a, "pubkey")
	if !ok {
		return nil, NewError(InvalidPubkey, "missing pubkey")
	}
	subkey, _ := argBytes(a, "subkey")
	sig, ok := argBytes(a, "signature")
	if !ok {
		return nil, NewError(InvalidSignature, "missing signature")
	}
	ts, ok := argInt64(a, "timestamp_s")
	if !ok {
		return nil, NewError(InvalidTimestamp, "missing timestamp_s")
	}
	if err := h.Authr.AuthenticateRequest(ed25519.PublicKey(pub), subkey, ts, canonical, sig); err != nil {
		return nil, NewError(InvalidSignature, err.Error())
	}
	return ed25519.PublicKey(pub), nil
}

func (h *Handler) maxTTLFor(ns models.Namespace) time.Duration {
	for _, c := range h.Retention {
		if c.contains(ns) {
			return c.MaxTTL
		}
	}
	return 30 * 24 * time.Hour
}

// doStore implements the "store" method: validates, hashes, inserts, and
// notifies matching subscriptions on success.
func (h *Handler) doStore(ctx context.Context, req Request) (Args, *Error) {
	a := req.Args
	account, err := argAccount(a, "account")
	if err != nil {
		return nil, err
	}
	ns, err := argNamespace(a, "namespace")
	if err != nil {
		return nil, err
	}
	data, ok := argBytes(a, "data")
	if !ok {
		return nil, NewError(BadRequest, "missing data")
	}
	if len(data) > models.MaxDataSize {
		return nil, NewError(PayloadTooLarge, "data exceeds maximum size")
	}
	tsMs, ok := argInt64(a, "timestamp_ms")
	if !ok {
		tsMs = h.now().UnixMilli()
	}
	expiryMs, ok := argInt64(a, "expiry_ms")
	if !ok {
		return nil, NewError(BadRequest, "missing expiry_ms")
	}
	if expiryMs <= tsMs {
		return nil, NewError(InvalidTimestamp, "expiry_ms must exceed timestamp_ms")
	}
	if time.Duration(expiryMs-tsMs)*time.Millisecond > h.maxTTLFor(ns) {
		return nil, NewError(InvalidTimestamp, "ttl exceeds namespace's maximum")
	}

	canonical := (auth.Canonical{}).Store(account, mustTS(a), ns, expiryMs)
	if _, err := h.authenticate(a, canonical); err != nil {
		return nil, err.(*Error)
	}

	nonce, _ := argBytes(a, "nonce")
	h_ := hash.Message(tsMs, nonce, account, data)

	policy := models.DuplicateFail
	if ignore, ok := argBool(a, "ignore_duplicate"); ok && ignore {
		policy = models.DuplicateIgnore
	}

	msg := models.Message{Hash: h_, Account: account, Namespace: ns, Data: data, TimestampMs: tsMs, ExpiryMs: expiryMs}
	if err := h.Store.Store(msg, policy); err != nil {
		switch {
		case isErr(err, store.ErrDuplicate):
			return nil, NewError(Duplicate, "hash already stored")
		case isErr(err, store.ErrCapacityExceeded):
			return nil, NewError(CapacityExceeded, "page budget exhausted")
		default:
			h.Log.Error("store_failed", zap.Error(err))
			return nil, NewError(InternalError, "store failed")
		}
	}

	if h.Monitor != nil {
		h.Monitor.Notify(msg)
	}

	return Args{
		"hash":      []byte(h_[:]),
		"expiry_ms": expiryMs,
	}, nil
}

func mustTS(a Args) int64 {
	ts, _ := argInt64(a, "timestamp_s")
	return ts
}

func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return false
}

// doRetrieve implements "retrieve".
func (h *Handler) doRetrieve(ctx context.Context, req Request) (Args, *Error) {
	a := req.Args
	account, err := argAccount(a, "account")
	if err != nil {
		return nil, err
	}
	ns, err := argNamespace(a, "namespace")
	if err != nil {
		return nil, err
	}
	var since *models.Hash
	if sh, present, err := argHash(a, "last_hash"); err != nil {
		return nil, err
	} else if present {
		since = &sh
	}
	limit := 0
	if l, ok := argInt64(a, "limit"); ok {
		limit = int(l)
	}

	canonical := (auth.Canonical{}).Retrieve(account, mustTS(a), ns)
	if _, err := h.authenticate(a, canonical); err != nil {
		return nil, err.(*Error)
	}

	msgs, serr := h.Store.Retrieve(account, ns, since, limit)
	if serr != nil {
		h.Log.Error("retrieve_failed", zap.Error(serr))
		return nil, NewError(InternalError, "retrieve failed")
	}

	list := make([]bt.Value, 0, len(msgs))
	for _, m := range msgs {
		list = append(list, messageToArgs(m))
	}
	return Args{"messages": list}, nil
}

func messageToArgs(m models.Message) bt.Value {
	return map[string]bt.Value{
		"hash":         []byte(m.Hash[:]),
		"namespace":    int64(m.Namespace),
		"data":         append([]byte{}, m.Data...),
		"timestamp_ms": m.TimestampMs,
		"expiry_ms":    m.ExpiryMs,
	}
}

// doDelete implements "delete".
func (h *Handler) doDelete(ctx context.Context, req Request) (Args, *Error) {
	a := req.Args
	account, err := argAccount(a, "account")
	if err != nil {
		return nil, err
	}
	hashes, err := argHashList(a, "hashes")
	if err != nil {
		return nil, err
	}

	canonical := (auth.Canonical{}).Delete(account, mustTS(a), hashes)
	if _, err := h.authenticate(a, canonical); err != nil {
		return nil, err.(*Error)
	}

	deleted, serr := h.Store.Delete(account, hashes)
	if serr != nil {
		h.Log.Error("delete_failed", zap.Error(serr))
		return nil, NewError(InternalError, "delete failed")
	}
	return Args{"deleted": int64(deleted)}, nil
}

// doDeleteAll implements "delete_all".
func (h *Handler) doDeleteAll(ctx context.Context, req Request) (Args, *Error) {
	a := req.Args
	account, err := argAccount(a, "account")
	if err != nil {
		return nil, err
	}
	namespaces, err := argNamespaceList(a, "namespaces")
	if err != nil {
		return nil, err
	}
	before, ok := argInt64(a, "before")
	if !ok {
		before = h.now().UnixMilli()
	}

	canonical := (auth.Canonical{}).DeleteAll(account, mustTS(a), namespaces, before)
	if _, err := h.authenticate(a, canonical); err != nil {
		return nil, err.(*Error)
	}

	deleted, serr := h.Store.DeleteAll(account, namespaces, before)
	if serr != nil {
		h.Log.Error("delete_all_failed", zap.Error(serr))
		return nil, NewError(InternalError, "delete_all failed")
	}
	return Args{"deleted": int64(deleted)}, nil
}

// doExpire implements "expire".
func (h *Handler) doExpire(ctx context.Context, req Request) (Args, *Error) {
	a := req.Args
	account, err := argAccount(a, "account")
	if err != nil {
		return nil, err
	}
	rawList, ok := argList(a, "extensions")
	if !ok {
		return nil, NewError(BadRequest, "missing extensions")
	}
	extensions := make(map[models.Hash]int64, len(rawList))
	for _, v := range rawList {
		entry, ok := v.(map[string]bt.Value)
		if !ok {
			return nil, NewError(BadRequest, "malformed extension entry")
		}
		hb, ok := entry["hash"].([]byte)
		if !ok || len(hb) != models.HashSize {
			return nil, NewError(BadRequest, "malformed extension hash")
		}
		expiry, ok := entry["expiry_ms"].(int64)
		if !ok {
			return nil, NewError(BadRequest, "malformed extension expiry_ms")
		}
		var hh models.Hash
		copy(hh[:], hb)
		extensions[hh] = expiry
	}

	canonical := (auth.Canonical{}).Expire(account, mustTS(a), extensions)
	if _, err := h.authenticate(a, canonical); err != nil {
		return nil, err.(*Error)
	}

	updated, serr := h.Store.Expire(account, extensions)
	if serr != nil {
		h.Log.Error("expire_failed", zap.Error(serr))
		return nil, NewError(InternalError, "expire failed")
	}
	out := make([]bt.Value, len(updated))
	for i, hh := range updated {
		out[i] = []byte(hh[:])
	}
	return Args{"updated": out}, nil
}

// doGetSwarm implements the public "get_swarm" method.
func (h *Handler) doGetSwarm(ctx context.Context, req Request) (Args, *Error) {
	account, err := argAccount(req.Args, "account")
	if err != nil {
		return nil, err
	}
	swarmID := h.Router.SwarmOf(account)
	peers := h.Router.PeersOf(account)
	list := make([]bt.Value, 0, len(peers))
	for _, p := range peers {
		list = append(list, map[string]bt.Value{
			"id":      []byte(p.ID),
			"address": []byte(p.Address),
		})
	}
	return Args{"swarm_id": int64(swarmID), "peers": list}, nil
}

// doInfo implements the public "info" method.
func (h *Handler) doInfo(ctx context.Context, req Request) (Args, *Error) {
	return Args{
		"version":         []byte(h.Version.Version),
		"hard_fork_level": int64(h.Version.HardForkLevel),
	}, nil
}

// doMonitor implements the binary-only "monitor" subscribe method. The
// wire layer is responsible for rejecting it over JSON transports if that
// restriction is enforced at that boundary; here it is just one more
// dispatched method.
func (h *Handler) doMonitor(ctx context.Context, req Request) (Args, *Error) {
	a := req.Args
	account, err := argAccount(a, "account")
	if err != nil {
		return nil, err
	}
	namespaces, err := argNamespaceList(a, "namespaces")
	if err != nil {
		return nil, err
	}
	wantData, _ := argBool(a, "want_data")
	pub, _ := argBytes(a, "pubkey")
	subkey, _ := argBytes(a, "subkey")
	sig, _ := argBytes(a, "signature")
	ts, _ := argInt64(a, "timestamp_s")

	if req.Connection == nil {
		return nil, NewError(BadRequest, "monitor requires a persistent connection")
	}

	outcome := h.Monitor.Subscribe(monitor.Request{
		PubKey: ed25519.PublicKey(pub), Subkey: subkey, Account: account,
		Namespaces: namespaces, WantData: wantData, TimestampS: ts,
		Signature: sig, Connection: req.Connection,
	})

	switch outcome.Code {
	case monitor.Success:
		return Args{"result": int64(0), "expiry_ms": outcome.Expiry}, nil
	default:
		return Args{"result": int64(outcome.Code)}, nil
	}
}
