// Package swarm implements the swarm router (C3): membership lookups over
// an atomically-swapped snapshot, plus the pairwise peer liveness test.
package swarm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"swarmstore/pkg/models"
)

// SwarmID identifies a swarm of nodes jointly responsible for a range of
// accounts.
type SwarmID uint64

// InvalidSwarmID marks an account that could not be resolved.
const InvalidSwarmID SwarmID = 0

// NodeRecord identifies one peer node able to serve a swarm.
type NodeRecord struct {
	ID      string
	Address string
}

// Snapshot is a fully-formed swarm map: which swarm each account prefix
// falls in, and which nodes serve each swarm. It is treated as immutable
// once published; updates swap in a brand new Snapshot.
type Snapshot struct {
	// LocalNodeID identifies this node within its own swarm's peer list.
	LocalNodeID string
	// SwarmOf resolves an account to its swarm id.
	SwarmOf func(models.Account) SwarmID
	// Peers maps a swarm id to its member node records.
	Peers map[SwarmID][]NodeRecord
	// LocalSwarm is the id of the swarm this node belongs to.
	LocalSwarm SwarmID
}

// MembershipOracle is the external, out-of-scope collaborator that knows
// the true swarm topology. The router only needs an injectable seam to
// poll it; production wiring and test doubles both implement this.
type MembershipOracle interface {
	// Fetch returns a fresh snapshot, or an error if the oracle is
	// unreachable (the router keeps serving the previous snapshot).
	Fetch(ctx context.Context) (*Snapshot, error)
}

// PeerTester issues the pairwise storage liveness probe against a peer.
// The transport-level implementation lives outside the core; the router
// only needs this seam to drive the test on a schedule.
type PeerTester interface {
	TestHash(ctx context.Context, peer NodeRecord, h models.Hash) (bool, error)
}

// RandomHashSource supplies a locally stored hash to probe a peer with.
type RandomHashSource interface {
	RetrieveRandom() (models.Message, bool, error)
}

// Router answers membership queries and runs the background peer
// liveness test.
type Router struct {
	snapshot atomic.Pointer[Snapshot]
	oracle   MembershipOracle
	tester   PeerTester
	hashes   RandomHashSource
	log      *zap.Logger

	livenessMu sync.Mutex
	liveness   map[string]*ringBuffer
}

// New constructs a Router with an initial snapshot. oracle, tester and
// hashes may be nil if the caller only needs pure membership lookups
// (e.g. in tests).
func New(initial *Snapshot, oracle MembershipOracle, tester PeerTester, hashes RandomHashSource, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{oracle: oracle, tester: tester, hashes: hashes, log: log, liveness: make(map[string]*ringBuffer)}
	if initial == nil {
		initial = &Snapshot{Peers: map[SwarmID][]NodeRecord{}}
	}
	r.snapshot.Store(initial)
	return r
}

func (r *Router) current() *Snapshot {
	return r.snapshot.Load()
}

// SwarmOf returns the swarm id an account is deterministically assigned
// to, per the current snapshot.
func (r *Router) SwarmOf(account models.Account) SwarmID {
	s := r.current()
	if s.SwarmOf == nil {
		return InvalidSwarmID
	}
	return s.SwarmOf(account)
}

// IsLocal reports whether account belongs to this node's swarm.
func (r *Router) IsLocal(account models.Account) bool {
	s := r.current()
	return s.SwarmOf != nil && s.SwarmOf(account) == s.LocalSwarm
}

// PeersOf returns the node records serving the swarm responsible for
// account, for forwarding or replication.
func (r *Router) PeersOf(account models.Account) []NodeRecord {
	s := r.current()
	if s.SwarmOf == nil {
		return nil
	}
	return s.Peers[s.SwarmOf(account)]
}

// Refresh polls the membership oracle once and swaps in the new snapshot
// on success. Failure leaves the current snapshot untouched.
func (r *Router) Refresh(ctx context.Context) error {
	if r.oracle == nil {
		return nil
	}
	snap, err := r.oracle.Fetch(ctx)
	if err != nil {
		r.log.Warn("swarm_refresh_failed", zap.Error(err))
		return err
	}
	r.snapshot.Store(snap)
	return nil
}

// RunRefresher polls the oracle on interval until ctx is done.
func (r *Router) RunRefresher(ctx context.Context, interval time.Duration) {
	if r.oracle == nil {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = r.Refresh(ctx)
		}
	}
}
