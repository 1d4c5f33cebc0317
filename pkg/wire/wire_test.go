package wire

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/curve25519"

	"swarmstore/pkg/auth"
	"swarmstore/pkg/bt"
	"swarmstore/pkg/models"
	"swarmstore/pkg/monitor"
	"swarmstore/pkg/onion"
	"swarmstore/pkg/rpc"
	"swarmstore/pkg/store"
	"swarmstore/pkg/swarm"
)

// stubForwarder records whether it was asked to forward, for asserting
// that an already-forwarded request never re-forwards.
type stubForwarder struct{ called bool }

func (f *stubForwarder) Forward(ctx context.Context, peer swarm.NodeRecord, method string, args rpc.Args) (rpc.Args, error) {
	f.called = true
	return rpc.Args{}, nil
}

func offSwarmAccount() models.Account {
	var a models.Account
	a[0] = 0x03
	for i := 1; i < len(a); i++ {
		a[i] = byte(i)
	}
	return a
}

func newOffSwarmHandler(t *testing.T, fwd rpc.Forwarder) *rpc.Handler {
	t.Helper()
	st, err := store.Open(t.TempDir(), nil, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	authr := auth.New(auth.DefaultNetworkParams)
	snap := &swarm.Snapshot{
		SwarmOf:    func(models.Account) swarm.SwarmID { return 2 },
		LocalSwarm: 1,
		Peers:      map[swarm.SwarmID][]swarm.NodeRecord{2: {{ID: "n2", Address: "remote:9000"}}},
	}
	router := swarm.New(snap, nil, nil, st, nil)
	mon := monitor.New(authr, router, nil)
	return rpc.New(st, authr, router, mon, rpc.NewRateLimits(), fwd, nil, rpc.NodeVersion{}, nil, nil)
}

func TestEncodeDecodeFrameRoundtrip(t *testing.T) {
	frame, err := encodeFrame(map[string]bt.Value{
		"e": []byte("info.info"),
		"a": map[string]bt.Value{},
	})
	require.NoError(t, err)

	// MQ requests arrive as plain POST bodies without the 4-byte length
	// prefix (only the hijacked monitor stream uses it), so strip it here;
	// decodeFrame only sees the dict.
	endpoint, args, forwarded, err := decodeFrame(frame[4:])
	require.NoError(t, err)
	require.Equal(t, "info.info", endpoint)
	require.NotNil(t, args)
	require.False(t, forwarded)
}

func TestDecodeFrameReadsForwardedMarker(t *testing.T) {
	frame, err := encodeFrame(map[string]bt.Value{
		"e": []byte("storage.store"), "a": map[string]bt.Value{}, "fw": int64(1),
	})
	require.NoError(t, err)

	_, _, forwarded, err := decodeFrame(frame[4:])
	require.NoError(t, err)
	require.True(t, forwarded)
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, _, _, err := decodeFrame([]byte("not bencode"))
	require.Error(t, err)
}

func TestMethodForEndpointLookup(t *testing.T) {
	m, ok := methodForEndpoint("storage.store")
	require.True(t, ok)
	require.Equal(t, "store", m)

	_, ok = methodForEndpoint("storage.nope")
	require.False(t, ok)
}

func TestMqConnectionSendDropsWhenFull(t *testing.T) {
	c := newMQConnection("peer")
	for i := 0; i < 32; i++ {
		require.True(t, c.Send([]byte("x")))
	}
	require.False(t, c.Send([]byte("overflow")))
}

func TestHandleRPCRejectsMonitorOverHTTP(t *testing.T) {
	s := NewHTTPServer(":0", &rpc.Handler{}, nil)

	body, _ := json.Marshal(jsonEnvelope{Method: "monitor", Params: map[string]interface{}{}})
	req := httptest.NewRequest(http.MethodPost, "/storage_rpc/v1", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]jsonError
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, string(rpc.BadRequest), resp["error"].Kind)
}

func TestHandleRPCRejectsMalformedJSON(t *testing.T) {
	s := NewHTTPServer(":0", &rpc.Handler{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/storage_rpc/v1", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteJSONErrorCarriesSwarmInfo(t *testing.T) {
	err := rpc.NewWrongSwarmError("account not served by this swarm", rpc.SwarmInfo{
		SwarmID: 7,
		Peers:   []swarm.NodeRecord{{ID: "n2", Address: "remote:9000"}},
	})

	w := httptest.NewRecorder()
	writeJSONError(w, err)
	require.Equal(t, 421, w.Code)

	var resp map[string]jsonError
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	got := resp["error"]
	require.Equal(t, string(rpc.WrongSwarm), got.Kind)
	require.NotNil(t, got.SwarmID)
	require.Equal(t, uint64(7), *got.SwarmID)
	require.Equal(t, []jsonPeer{{ID: "n2", Address: "remote:9000"}}, got.Peers)
}

func TestWriteFrameErrCarriesSwarmInfo(t *testing.T) {
	err := rpc.NewWrongSwarmError("account not served by this swarm", rpc.SwarmInfo{
		SwarmID: 7,
		Peers:   []swarm.NodeRecord{{ID: "n2", Address: "remote:9000"}},
	})

	var ctx fasthttp.RequestCtx
	writeFrameErr(&ctx, err)
	require.Equal(t, 421, ctx.Response.StatusCode())

	decoded, derr := bt.DecodeFull(ctx.Response.Body())
	require.NoError(t, derr)
	dict, ok := decoded.(map[string]bt.Value)
	require.True(t, ok)
	require.Equal(t, int64(7), dict["swarm_id"])

	peers, ok := dict["peers"].([]bt.Value)
	require.True(t, ok)
	require.Len(t, peers, 1)
	peer, ok := peers[0].(map[string]bt.Value)
	require.True(t, ok)
	require.Equal(t, []byte("n2"), peer["id"])
	require.Equal(t, []byte("remote:9000"), peer["address"])
}

func TestHandleRPCForwardsOffSwarmRequestWhenNotAlreadyForwarded(t *testing.T) {
	fwd := &stubForwarder{}
	s := NewHTTPServer(":0", newOffSwarmHandler(t, fwd), nil)

	acct := offSwarmAccount()
	body, _ := json.Marshal(jsonEnvelope{
		Method: "store",
		Params: map[string]interface{}{"account": base64.StdEncoding.EncodeToString(acct[:])},
	})
	req := httptest.NewRequest(http.MethodPost, "/storage_rpc/v1", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)

	require.True(t, fwd.called, "a fresh off-swarm request should be forwarded once")
}

func TestHandleRPCReadsForwardedHeaderAndSkipsReforwarding(t *testing.T) {
	fwd := &stubForwarder{}
	s := NewHTTPServer(":0", newOffSwarmHandler(t, fwd), nil)

	acct := offSwarmAccount()
	body, _ := json.Marshal(jsonEnvelope{
		Method: "store",
		Params: map[string]interface{}{"account": base64.StdEncoding.EncodeToString(acct[:])},
	})
	req := httptest.NewRequest(http.MethodPost, "/storage_rpc/v1", bytes.NewReader(body))
	req.Header.Set(swarmForwardedHeader, "1")
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)

	require.False(t, fwd.called, "a request already marked forwarded must not be forwarded again")
	require.Equal(t, 421, w.Code)
	var resp map[string]jsonError
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, string(rpc.WrongSwarm), resp["error"].Kind)
}

func TestHTTPForwarderSetsForwardedHeader(t *testing.T) {
	var gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(swarmForwardedHeader)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]interface{}{}})
	}))
	defer upstream.Close()

	f := NewHTTPForwarder()
	f.Scheme = "http"
	_, err := f.Forward(context.Background(), swarm.NodeRecord{ID: "n1", Address: upstream.Listener.Addr().String()}, "store", rpc.Args{})
	require.NoError(t, err)
	require.Equal(t, "1", gotHeader)
}

func newInfoOnlyHandler() *rpc.Handler {
	return rpc.New(nil, nil, nil, nil, nil, nil, nil, rpc.NodeVersion{Version: "v1", HardForkLevel: 2}, nil, nil)
}

func TestServeOnionDecodesAndRedispatchesInnerRequest(t *testing.T) {
	var nodePriv [32]byte
	_, err := rand.Read(nodePriv[:])
	require.NoError(t, err)
	nodePubBytes, err := curve25519.X25519(nodePriv[:], curve25519.Basepoint)
	require.NoError(t, err)
	var nodePub [32]byte
	copy(nodePub[:], nodePubBytes)

	inner, err := encodeFrame(map[string]bt.Value{"e": []byte("info.info"), "a": map[string]bt.Value{}})
	require.NoError(t, err)
	envelope, err := onion.Encode(nodePub, inner[4:], onion.EncTypeXChaCha20Poly1305, nil)
	require.NoError(t, err)

	outer, err := encodeFrame(map[string]bt.Value{
		"e": []byte("info.onion"),
		"a": map[string]bt.Value{"envelope": envelope},
	})
	require.NoError(t, err)

	m := NewMQServer(newInfoOnlyHandler(), nodePriv, nil)
	var ctx fasthttp.RequestCtx
	ctx.Request.SetBody(outer[4:])
	m.serve(&ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	decoded, derr := bt.DecodeFull(ctx.Response.Body())
	require.NoError(t, derr)
	dict := decoded.(map[string]bt.Value)
	require.Equal(t, int64(1), dict["ok"])
	result := dict["r"].(map[string]bt.Value)
	require.Equal(t, []byte("v1"), result["version"])
	require.Equal(t, int64(2), result["hard_fork_level"])
}

func TestServeOnionRejectsEnvelopeForWrongKey(t *testing.T) {
	var nodePriv, wrongPriv [32]byte
	_, _ = rand.Read(nodePriv[:])
	_, _ = rand.Read(wrongPriv[:])
	nodePubBytes, _ := curve25519.X25519(nodePriv[:], curve25519.Basepoint)
	var nodePub [32]byte
	copy(nodePub[:], nodePubBytes)

	envelope, err := onion.Encode(nodePub, []byte("irrelevant"), onion.EncTypeXChaCha20Poly1305, nil)
	require.NoError(t, err)
	outer, err := encodeFrame(map[string]bt.Value{
		"e": []byte("info.onion"),
		"a": map[string]bt.Value{"envelope": envelope},
	})
	require.NoError(t, err)

	m := NewMQServer(newInfoOnlyHandler(), wrongPriv, nil)
	var ctx fasthttp.RequestCtx
	ctx.Request.SetBody(outer[4:])
	m.serve(&ctx)

	require.Equal(t, 400, ctx.Response.StatusCode())
}

func TestServeOnionRejectsNestedOnionEnvelope(t *testing.T) {
	var nodePriv [32]byte
	_, _ = rand.Read(nodePriv[:])
	nodePubBytes, _ := curve25519.X25519(nodePriv[:], curve25519.Basepoint)
	var nodePub [32]byte
	copy(nodePub[:], nodePubBytes)

	nestedInner, err := encodeFrame(map[string]bt.Value{"e": []byte("info.onion"), "a": map[string]bt.Value{}})
	require.NoError(t, err)
	envelope, err := onion.Encode(nodePub, nestedInner[4:], onion.EncTypeXChaCha20Poly1305, nil)
	require.NoError(t, err)
	outer, err := encodeFrame(map[string]bt.Value{
		"e": []byte("info.onion"),
		"a": map[string]bt.Value{"envelope": envelope},
	})
	require.NoError(t, err)

	m := NewMQServer(newInfoOnlyHandler(), nodePriv, nil)
	var ctx fasthttp.RequestCtx
	ctx.Request.SetBody(outer[4:])
	m.serve(&ctx)

	require.Equal(t, 400, ctx.Response.StatusCode())
}

func TestClientIdentityPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	require.Equal(t, "203.0.113.5", clientIdentity(req))

	req2 := httptest.NewRequest(http.MethodPost, "/", nil)
	req2.RemoteAddr = "10.0.0.1:1234"
	require.Equal(t, "10.0.0.1:1234", clientIdentity(req2))
}
