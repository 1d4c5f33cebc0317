package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"swarmstore/pkg/rpc"
	"swarmstore/pkg/swarm"
)

// HTTPForwarder implements rpc.Forwarder by re-issuing a method call as a
// JSON storage_rpc/v1 request against a peer's HTTP address, the same
// surface ordinary clients use.
type HTTPForwarder struct {
	Client *http.Client
	Scheme string // "https" or "http"; defaults to "https"
}

// NewHTTPForwarder builds a forwarder with a bounded request timeout.
func NewHTTPForwarder() *HTTPForwarder {
	return &HTTPForwarder{Client: &http.Client{Timeout: 10 * time.Second}, Scheme: "https"}
}

// Forward implements rpc.Forwarder.
func (f *HTTPForwarder) Forward(ctx context.Context, peer swarm.NodeRecord, method string, args rpc.Args) (rpc.Args, error) {
	params, err := argsToJSON(args)
	if err != nil {
		return nil, fmt.Errorf("forward: encode params: %w", err)
	}
	paramsMap, _ := params.(map[string]interface{})

	body, err := json.Marshal(jsonEnvelope{Method: method, Params: paramsMap})
	if err != nil {
		return nil, fmt.Errorf("forward: encode envelope: %w", err)
	}

	scheme := f.Scheme
	if scheme == "" {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/storage_rpc/v1", scheme, peer.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("forward: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(swarmForwardedHeader, "1")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward: request to peer %s: %w", peer.ID, err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Result map[string]interface{} `json:"result"`
		Error  *jsonError              `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("forward: decode peer response: %w", err)
	}
	if decoded.Error != nil {
		return nil, rpc.NewError(rpc.Kind(decoded.Error.Kind), decoded.Error.Detail)
	}
	return jsonParamsToArgs(decoded.Result)
}
