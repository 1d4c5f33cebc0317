package monitor

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"swarmstore/pkg/auth"
	"swarmstore/pkg/models"
)

type fakeConn struct {
	id  string
	out [][]byte
}

func (f *fakeConn) ID() string { return f.id }
func (f *fakeConn) Send(b []byte) bool {
	f.out = append(f.out, b)
	return true
}

type alwaysLocal struct{}

func (alwaysLocal) IsLocal(models.Account) bool { return true }

func newSignedRequest(t *testing.T, conn models.Connection, account models.Account, ns []models.Namespace, wantData bool) Request {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	// Force account to actually correspond to pub for a real test would
	// require session-id derivation; here we authenticate pub directly
	// against the canonical string, independent of the account routing key.
	ts := time.Now().Unix()
	canonical := (auth.Canonical{}).Monitor(account, ts, wantData, normalizeNamespaces(ns))
	sig := ed25519.Sign(priv, []byte(canonical))
	return Request{
		PubKey:     pub,
		Account:    account,
		Namespaces: ns,
		WantData:   wantData,
		TimestampS: ts,
		Signature:  sig,
		Connection: conn,
	}
}

func TestSubscribeAndNotify(t *testing.T) {
	authr := auth.New(auth.DefaultNetworkParams)
	reg := New(authr, alwaysLocal{}, nil)

	var account models.Account
	account[0] = 0x00
	conn := &fakeConn{id: "conn-1"}

	req := newSignedRequest(t, conn, account, []models.Namespace{0, 1}, true)
	outcome := reg.Subscribe(req)
	require.Equal(t, Success, outcome.Code)
	require.Greater(t, outcome.Expiry, int64(0))

	msg := models.Message{
		Account:     account,
		Namespace:   0,
		Data:        []byte("hi"),
		TimestampMs: 1700000000000,
		ExpiryMs:    1700086400000,
	}
	reg.Notify(msg)
	require.Len(t, conn.out, 1)

	other := models.Message{Account: account, Namespace: 2, TimestampMs: 1, ExpiryMs: 2}
	reg.Notify(other)
	require.Len(t, conn.out, 1, "namespace 2 was not subscribed, no new notification")
}

func TestSubscribeCoalescesDuplicates(t *testing.T) {
	authr := auth.New(auth.DefaultNetworkParams)
	reg := New(authr, alwaysLocal{}, nil)

	var account models.Account
	conn := &fakeConn{id: "conn-1"}

	req1 := newSignedRequest(t, conn, account, []models.Namespace{0}, false)
	req2 := newSignedRequest(t, conn, account, []models.Namespace{0}, false)

	reg.Subscribe(req1)
	reg.Subscribe(req2)

	require.Len(t, reg.byAccount[account], 1)
}

func TestSubscribeRejectsEmptyNamespaces(t *testing.T) {
	reg := New(nil, alwaysLocal{}, nil)
	conn := &fakeConn{id: "c"}
	outcome := reg.Subscribe(Request{Connection: conn, PubKey: []byte{1}, Namespaces: nil})
	require.Equal(t, ErrBadNamespace, outcome.Code)
}

func TestSubscribeRejectsWrongSwarm(t *testing.T) {
	authr := auth.New(auth.DefaultNetworkParams)
	reg := New(authr, wrongSwarm{}, nil)
	conn := &fakeConn{id: "c"}
	var account models.Account
	req := newSignedRequest(t, conn, account, []models.Namespace{0}, false)
	outcome := reg.Subscribe(req)
	require.Equal(t, ErrWrongSwarm, outcome.Code)
}

type wrongSwarm struct{}

func (wrongSwarm) IsLocal(models.Account) bool { return false }

func TestUnsubscribeExpired(t *testing.T) {
	reg := New(nil, alwaysLocal{}, nil)
	conn := &fakeConn{id: "c"}
	var account models.Account
	reg.byAccount[account] = []*entry{{
		sub:    models.Subscription{Account: account, Namespaces: []models.Namespace{0}, Connection: conn, Expiry: 100},
		connID: "c",
	}}
	reg.UnsubscribeExpired(200)
	require.Empty(t, reg.byAccount[account])
}
