package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"swarmstore/pkg/bt"
	"swarmstore/pkg/models"
	"swarmstore/pkg/onion"
	"swarmstore/pkg/rpc"
)

// maxFrameSize bounds a single length-prefixed MQ frame, comfortably
// above the largest legal request (a store() call at MaxDataSize).
const maxFrameSize = 256 * 1024

// MQServer is the binary MQ transport (C7): endpoints named
// storage.<method> (authenticated), info.<method> (public), and
// monitor.messages (subscribe), each carrying a single bencoded dict.
// A successful monitor.messages call hijacks the underlying connection
// to stream notify.message frames for the life of the subscription.
type MQServer struct {
	Handler  *rpc.Handler
	Log      *zap.Logger
	OnionKey [32]byte // static X25519 private key this node peels onion envelopes with
	srv      *fasthttp.Server
}

// NewMQServer builds the fasthttp-backed MQ listener. onionKey is this
// node's static X25519 private key for the "info.onion" endpoint; a zero
// key still runs but never matches a real envelope, so onion-wrapped
// requests fail closed rather than panicking.
func NewMQServer(h *rpc.Handler, onionKey [32]byte, log *zap.Logger) *MQServer {
	if log == nil {
		log = zap.NewNop()
	}
	m := &MQServer{Handler: h, OnionKey: onionKey, Log: log}
	m.srv = &fasthttp.Server{
		Handler:      m.serve,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return m
}

// ListenAndServe blocks accepting MQ connections on addr.
func (m *MQServer) ListenAndServe(addr string) error {
	return m.srv.ListenAndServe(addr)
}

// Shutdown stops accepting new MQ connections.
func (m *MQServer) Shutdown() error {
	return m.srv.Shutdown()
}

func (m *MQServer) serve(ctx *fasthttp.RequestCtx) {
	endpoint, args, forwarded, err := decodeFrame(ctx.PostBody())
	if err != nil {
		writeFrameErr(ctx, rpc.NewError(rpc.BadRequest, err.Error()))
		return
	}
	clientID := ctx.RemoteAddr().String()

	if endpoint == "info.onion" {
		m.serveOnion(ctx, args, clientID)
		return
	}

	method, ok := methodForEndpoint(endpoint)
	if !ok {
		writeFrameErr(ctx, rpc.NewError(rpc.BadRequest, "unknown endpoint "+endpoint))
		return
	}

	if method == "monitor" {
		m.serveMonitor(ctx, args, clientID)
		return
	}

	result, rerr := m.Handler.Dispatch(ctx, rpc.Request{
		Method: method, Args: args, ClientID: clientID, Forwarded: forwarded,
	})
	if rerr != nil {
		writeFrameErr(ctx, rerr)
		return
	}
	writeFrameOK(ctx, result)
}

// serveOnion implements the public "info.onion" endpoint: it peels one
// onion layer (C6) off the envelope argument with this node's static key,
// decodes the inner payload as an ordinary {"e", "a"} frame, and
// redispatches it through C4 exactly as if the client had called that
// endpoint directly, except Forwarded is always false — a decoded onion
// payload has traversed zero swarm-level hops, whatever hops it took at
// the onion layer.
func (m *MQServer) serveOnion(ctx *fasthttp.RequestCtx, args rpc.Args, clientID string) {
	envelope, ok := args["envelope"].([]byte)
	if !ok {
		writeFrameErr(ctx, rpc.NewError(rpc.BadRequest, "missing envelope"))
		return
	}
	payload, _, err := onion.Decode(m.OnionKey, envelope)
	if err != nil {
		writeFrameErr(ctx, rpc.NewError(rpc.BadRequest, "onion: "+err.Error()))
		return
	}

	innerEndpoint, innerArgs, _, err := decodeFrame(payload)
	if err != nil {
		writeFrameErr(ctx, rpc.NewError(rpc.BadRequest, "onion: malformed inner frame: "+err.Error()))
		return
	}
	if innerEndpoint == "info.onion" {
		writeFrameErr(ctx, rpc.NewError(rpc.BadRequest, "onion: nested onion envelopes are not supported"))
		return
	}
	method, ok := methodForEndpoint(innerEndpoint)
	if !ok {
		writeFrameErr(ctx, rpc.NewError(rpc.BadRequest, "onion: unknown inner endpoint "+innerEndpoint))
		return
	}
	if method == "monitor" {
		writeFrameErr(ctx, rpc.NewError(rpc.BadRequest, "onion: monitor cannot be tunneled"))
		return
	}

	result, rerr := m.Handler.Dispatch(ctx, rpc.Request{
		Method: method, Args: innerArgs, ClientID: clientID, Forwarded: false,
	})
	if rerr != nil {
		writeFrameErr(ctx, rerr)
		return
	}
	writeFrameOK(ctx, result)
}

// serveMonitor validates the subscription synchronously, then hijacks the
// connection to stream notifications for as long as it stays open.
func (m *MQServer) serveMonitor(ctx *fasthttp.RequestCtx, args rpc.Args, clientID string) {
	conn := newMQConnection(clientID)
	ack, rerr := m.Handler.Dispatch(ctx, rpc.Request{
		Method: "monitor", Args: args, ClientID: clientID, Connection: conn,
	})
	if rerr != nil {
		writeFrameErr(ctx, rerr)
		return
	}

	ackFrame, err := encodeFrame(map[string]bt.Value{"ok": int64(1), "r": map[string]bt.Value(ack)})
	if err != nil {
		writeFrameErr(ctx, rpc.NewError(rpc.InternalError, "ack encoding failed"))
		return
	}

	ctx.HijackSetNoResponse(true)
	ctx.Hijack(func(c net.Conn) {
		m.streamMonitor(c, conn, ackFrame)
	})
}

func (m *MQServer) streamMonitor(c net.Conn, conn *mqConnection, ackFrame []byte) {
	defer c.Close()
	if _, err := c.Write(ackFrame); err != nil {
		return
	}

	go drainUntilClosed(c, conn)

	for {
		select {
		case envelope, ok := <-conn.ch:
			if !ok {
				return
			}
			frame, err := encodeFrame(map[string]bt.Value{"@e": envelope})
			if err != nil {
				continue
			}
			c.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if _, err := c.Write(frame); err != nil {
				return
			}
		case <-conn.closed:
			return
		}
	}
}

// drainUntilClosed reads (and discards) from c until it errors, signaling
// the writer loop to stop once the client disconnects.
func drainUntilClosed(c net.Conn, conn *mqConnection) {
	buf := make([]byte, 512)
	for {
		if _, err := c.Read(buf); err != nil {
			close(conn.closed)
			return
		}
	}
}

// mqConnection implements models.Connection over a hijacked MQ socket: a
// bounded channel of depth 32, dropping the newest notification when full.
type mqConnection struct {
	id     string
	ch     chan []byte
	closed chan struct{}
}

func newMQConnection(id string) *mqConnection {
	return &mqConnection{id: id, ch: make(chan []byte, 32), closed: make(chan struct{})}
}

func (c *mqConnection) ID() string { return c.id }

func (c *mqConnection) Send(envelope []byte) bool {
	select {
	case c.ch <- envelope:
		return true
	default:
		return false
	}
}

var _ models.Connection = (*mqConnection)(nil)

// endpointTable maps the wire endpoint names to C4 method names.
var endpointTable = map[string]string{
	"storage.store":      "store",
	"storage.retrieve":   "retrieve",
	"storage.delete":     "delete",
	"storage.delete_all": "delete_all",
	"storage.expire":     "expire",
	"info.get_swarm":     "get_swarm",
	"info.info":          "info",
	"monitor.messages":   "monitor",
}

func methodForEndpoint(endpoint string) (string, bool) {
	m, ok := endpointTable[endpoint]
	return m, ok
}

// decodeFrame reads a single bencoded dict {"e": endpoint, "a": args, "fw":
// forwarded} from a raw request body (the fasthttp POST body, delimited by
// its content length; incoming requests carry no 4-byte length prefix,
// which encodeFrame adds only to outgoing monitor frames). "fw" is set by
// a forwarding peer to mark a request that already traversed one hop, so
// the receiving node never forwards it again (see HTTPForwarder.Forward
// and the matching X-Swarm-Forwarded header on the JSON transport).
func decodeFrame(body []byte) (endpoint string, args rpc.Args, forwarded bool, err error) {
	v, err := bt.DecodeFull(body)
	if err != nil {
		return "", nil, false, fmt.Errorf("malformed frame: %w", err)
	}
	dict, ok := v.(map[string]bt.Value)
	if !ok {
		return "", nil, false, fmt.Errorf("frame is not a dict")
	}
	eb, ok := dict["e"].([]byte)
	if !ok {
		return "", nil, false, fmt.Errorf("frame missing endpoint")
	}
	a, _ := dict["a"].(map[string]bt.Value)
	fw, _ := dict["fw"].(int64)
	return string(eb), rpc.Args(a), fw != 0, nil
}

// encodeFrame serializes v as a bencode dict prefixed with its 4-byte
// big-endian length, the self-delimiting framing used once a connection
// has been hijacked off the HTTP request/response cycle. The composition
// buffer is drawn from a pool, since monitor streaming calls this once per
// outbound notification for the life of a subscription.
func encodeFrame(v bt.Value) ([]byte, error) {
	body, err := bt.Encode(v)
	if err != nil {
		return nil, err
	}
	if len(body) > maxFrameSize {
		return nil, fmt.Errorf("frame exceeds maximum size")
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	buf.Write(lenPrefix[:])
	buf.Write(body)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func writeFrameOK(ctx *fasthttp.RequestCtx, result rpc.Args) {
	body, err := bt.Encode(map[string]bt.Value{"ok": int64(1), "r": map[string]bt.Value(result)})
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetBody(body)
}

func writeFrameErr(ctx *fasthttp.RequestCtx, e *rpc.Error) {
	dict := map[string]bt.Value{
		"ok": int64(0), "kind": []byte(e.Kind), "detail": []byte(e.Detail),
	}
	if e.Swarm != nil {
		peers := make([]bt.Value, len(e.Swarm.Peers))
		for i, p := range e.Swarm.Peers {
			peers[i] = map[string]bt.Value{"id": []byte(p.ID), "address": []byte(p.Address)}
		}
		dict["swarm_id"] = int64(e.Swarm.SwarmID)
		dict["peers"] = peers
	}
	body, err := bt.Encode(dict)
	if err == nil {
		ctx.SetBody(body)
	}
	ctx.SetStatusCode(mqStatus(e.Kind))
}

func mqStatus(k rpc.Kind) int {
	return rpc.HTTPStatus(k)
}
