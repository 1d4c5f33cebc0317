package swarm

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ringBuffer is a small fixed-size circular window of pass/fail outcomes.
type ringBuffer struct {
	window []bool
	pos    int
	filled bool
}

const livenessWindow = 32

func newRingBuffer() *ringBuffer {
	return &ringBuffer{window: make([]bool, livenessWindow)}
}

func (r *ringBuffer) record(ok bool) {
	r.window[r.pos] = ok
	r.pos = (r.pos + 1) % len(r.window)
	if r.pos == 0 {
		r.filled = true
	}
}

// successRatio returns the fraction of recorded outcomes that succeeded.
func (r *ringBuffer) successRatio() float64 {
	n := len(r.window)
	if !r.filled {
		n = r.pos
	}
	if n == 0 {
		return 1.0
	}
	var ok int
	for i := 0; i < n; i++ {
		if r.window[i] {
			ok++
		}
	}
	return float64(ok) / float64(n)
}

// LivenessOf returns the rolling success ratio recorded for a peer id, or
// 1.0 (assume healthy) if no probes have run yet.
func (r *Router) LivenessOf(peerID string) float64 {
	r.livenessMu.Lock()
	defer r.livenessMu.Unlock()
	rb, ok := r.liveness[peerID]
	if !ok {
		return 1.0
	}
	return rb.successRatio()
}

// RunLivenessProbe periodically picks a random peer and a random locally
// stored hash, asks the peer for that hash via PeerTester, and records the
// outcome in that peer's rolling window.
func (r *Router) RunLivenessProbe(ctx context.Context, interval time.Duration) {
	if r.tester == nil || r.hashes == nil {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.probeOnce(ctx)
		}
	}
}

func (r *Router) probeOnce(ctx context.Context) {
	msg, ok, err := r.hashes.RetrieveRandom()
	if err != nil || !ok {
		return
	}
	peers := r.PeersOf(msg.Account)
	if len(peers) == 0 {
		return
	}
	peer := peers[rand.Intn(len(peers))]

	success, err := r.tester.TestHash(ctx, peer, msg.Hash)
	if err != nil {
		success = false
	}

	r.livenessMu.Lock()
	rb, ok := r.liveness[peer.ID]
	if !ok {
		rb = newRingBuffer()
		r.liveness[peer.ID] = rb
	}
	rb.record(success)
	r.livenessMu.Unlock()

	r.log.Debug("peer_liveness_probe", zap.String("peer", peer.ID), zap.Bool("success", success))
}
