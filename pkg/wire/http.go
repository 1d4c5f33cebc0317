// Package wire implements the transport layer (C7): an HTTPS/JSON front
// end and a binary MQ front end, both decoding into the same rpc.Request
// shape and handing off to the request handler (C4).
package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"swarmstore/pkg/bt"
	"swarmstore/pkg/logger"
	"swarmstore/pkg/rpc"
)

// HTTPServer serves the JSON storage RPC surface over HTTPS.
type HTTPServer struct {
	Handler *rpc.Handler
	Log     *zap.Logger
	srv     *http.Server
}

// NewHTTPServer builds the gorilla/mux router and wraps it in an
// http.Server bound to addr.
func NewHTTPServer(addr string, h *rpc.Handler, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &HTTPServer{Handler: h, Log: log}
	r := mux.NewRouter()
	r.HandleFunc("/storage_rpc/v1", s.handleRPC).Methods(http.MethodPost)
	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// ListenAndServe blocks serving HTTP until the listener errors or Shutdown
// is called. TLS is used automatically when cert/key are set via
// ListenAndServeTLS instead.
func (s *HTTPServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// ListenAndServeTLS serves the JSON surface over HTTPS.
func (s *HTTPServer) ListenAndServeTLS(certFile, keyFile string) error {
	return s.srv.ListenAndServeTLS(certFile, keyFile)
}

// Shutdown gracefully stops accepting connections, letting in-flight
// requests finish until ctx is cancelled.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// swarmForwardedHeader marks a JSON request that a peer already forwarded
// one hop, so the receiving node returns wrong_swarm instead of forwarding
// it again. Set by HTTPForwarder.Forward, read by handleRPC.
const swarmForwardedHeader = "X-Swarm-Forwarded"

type jsonEnvelope struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

type jsonError struct {
	Kind    string     `json:"kind"`
	Detail  string     `json:"detail"`
	SwarmID *uint64    `json:"swarm_id,omitempty"`
	Peers   []jsonPeer `json:"peers,omitempty"`
}

type jsonPeer struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

func (s *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	s.Log.Debug("http_request", zap.String("headers", logger.SafeHeaders(r)))

	var env jsonEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSONError(w, rpc.NewError(rpc.BadRequest, "malformed JSON body"))
		return
	}
	if env.Method == "monitor" {
		writeJSONError(w, rpc.NewError(rpc.BadRequest, "monitor requires the binary MQ transport"))
		return
	}

	args, aerr := jsonParamsToArgs(env.Params)
	if aerr != nil {
		writeJSONError(w, rpc.NewError(rpc.BadRequest, aerr.Error()))
		return
	}

	result, rerr := s.Handler.Dispatch(r.Context(), rpc.Request{
		Method:    env.Method,
		Args:      args,
		ClientID:  clientIdentity(r),
		Forwarded: r.Header.Get(swarmForwardedHeader) != "",
	})
	if rerr != nil {
		writeJSONError(w, rerr)
		return
	}

	out, err := argsToJSON(result)
	if err != nil {
		writeJSONError(w, rpc.NewError(rpc.InternalError, "result encoding failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": out})
}

func jsonParamsToArgs(params map[string]interface{}) (rpc.Args, error) {
	v, err := bt.FromJSON(params)
	if err != nil {
		return nil, err
	}
	dict, ok := v.(map[string]bt.Value)
	if !ok {
		return nil, fmt.Errorf("params must be a JSON object")
	}
	return rpc.Args(dict), nil
}

func argsToJSON(a rpc.Args) (interface{}, error) {
	return bt.ToJSON(map[string]bt.Value(a))
}

func clientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

func writeJSONError(w http.ResponseWriter, err *rpc.Error) {
	jerr := jsonError{Kind: string(err.Kind), Detail: err.Detail}
	if err.Swarm != nil {
		id := uint64(err.Swarm.SwarmID)
		jerr.SwarmID = &id
		jerr.Peers = make([]jsonPeer, len(err.Swarm.Peers))
		for i, p := range err.Swarm.Peers {
			jerr.Peers[i] = jsonPeer{ID: p.ID, Address: p.Address}
		}
	}
	writeJSON(w, rpc.HTTPStatus(err.Kind), map[string]interface{}{"error": jerr})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
