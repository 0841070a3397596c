// Package endpoint implements the live-endpoint adapter. It speaks
// JSON-RPC 2.0 to a running service: an initialize handshake followed by
// the capability listings. Every call runs under the shared client's
// strict per-call timeout; a hung endpoint costs one deadline, not a
// worker.
package endpoint

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"github.com/toolharbor/toolharbor/pkg/adapters"
	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/fetch"
)

// protocolVersion is the handshake revision sent in initialize.
const protocolVersion = "2025-03-26"

// Adapter probes live JSON-RPC endpoints.
type Adapter struct {
	http   *fetch.Client
	nextID atomic.Int64
}

// New creates an endpoint adapter.
func New(httpc *fetch.Client) *Adapter {
	return &Adapter{http: httpc}
}

// Channel implements adapters.Adapter.
func (a *Adapter) Channel() catalog.ChannelType { return catalog.ChannelEndpoint }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (a *Adapter) call(ctx context.Context, url, method string, params, result any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      a.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	var resp rpcResponse
	if err := a.http.PostJSON(ctx, url, nil, req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return errors.New(errors.ErrCodeUnsupported, "endpoint rejected %s: %d %s", method, resp.Error.Code, resp.Error.Message)
	}
	if result == nil || resp.Result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return errors.Wrap(errors.ErrCodeMalformedManifest, err, "decode %s result", method)
	}
	return nil
}

type initializeResult struct {
	ServerInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
	Capabilities map[string]json.RawMessage `json:"capabilities"`
	Instructions string                     `json:"instructions"`
}

type capabilityEntry struct {
	Name        string          `json:"name"`
	URI         string          `json:"uri"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Arguments   json.RawMessage `json:"arguments"`
}

// Fetch implements adapters.Adapter. The initialize handshake is
// mandatory; each listing call only runs when the handshake advertised
// that capability class, and listing failures degrade to a partial
// result rather than failing the target.
func (a *Adapter) Fetch(ctx context.Context, target catalog.Target) (*adapters.RawArtifact, error) {
	url := strings.TrimSpace(target.CanonicalID)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, errors.New(errors.ErrCodeInvalidTarget, "not an endpoint url: %s", target.CanonicalID)
	}

	var init initializeResult
	err := a.call(ctx, url, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]string{"name": "toolharbor", "version": "1.0"},
		"capabilities":    map[string]any{},
	}, &init)
	if err != nil {
		return nil, err
	}

	raw := &adapters.RawArtifact{
		Target: target,
		Meta: adapters.Meta{
			Name:        init.ServerInfo.Name,
			Version:     init.ServerInfo.Version,
			Description: init.Instructions,
			Transport:   "http",
		},
		Manifests: map[string][]byte{},
		Sources:   map[string][]byte{},
	}
	if raw.Meta.Name == "" {
		raw.Meta.Name = url
	}

	listings := []struct {
		advertised string
		method     string
		field      string
		kind       catalog.CapabilityKind
	}{
		{"tools", "tools/list", "tools", catalog.CapabilityTool},
		{"resources", "resources/list", "resources", catalog.CapabilityResource},
		{"prompts", "prompts/list", "prompts", catalog.CapabilityPrompt},
	}
	for _, l := range listings {
		if _, ok := init.Capabilities[l.advertised]; !ok {
			continue
		}
		var result map[string][]capabilityEntry
		if err := a.call(ctx, url, l.method, map[string]any{}, &result); err != nil {
			continue
		}
		for _, entry := range result[l.field] {
			cap := catalog.Capability{
				Kind:        l.kind,
				Name:        entry.Name,
				Description: entry.Description,
			}
			if cap.Name == "" {
				cap.Name = entry.URI
			}
			if len(entry.InputSchema) > 0 {
				cap.Schema = entry.InputSchema
			} else if len(entry.Arguments) > 0 {
				cap.Schema = entry.Arguments
			}
			raw.Capabilities = append(raw.Capabilities, cap)
		}
	}
	return raw, nil
}

// Parse implements adapters.Adapter. Endpoint artifacts arrive already
// normalized.
func (a *Adapter) Parse(ctx context.Context, raw *adapters.RawArtifact) (*adapters.ParsedPackage, error) {
	return &adapters.ParsedPackage{
		Target:       raw.Target,
		Meta:         raw.Meta,
		Manifests:    raw.Manifests,
		Sources:      map[string]string{},
		Capabilities: raw.Capabilities,
	}, nil
}
