// Package exchange carries one discovery request to an isolated context and
// brings back exactly one catalog response.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bloomdevelop/weasel/internal/catalog"
	"github.com/bloomdevelop/weasel/internal/plugin"
	"github.com/bloomdevelop/weasel/internal/plugin/discovery"
)

// CommandLoadCommands is the only request verb.
const CommandLoadCommands = "loadCommands"

// ErrUnknownVerb reports a request with an unsupported command verb.
var ErrUnknownVerb = errors.New("exchange: unknown request verb")

// Request asks the discovery context to scan Root.
type Request struct {
	Command string `json:"command"`
	Root    string `json:"root"`
}

// Response is the single reply of a discovery context.
type Response struct {
	Success bool `json:"success"`
	// Commands is the JSON-encoded name to descriptor catalog.
	Commands string           `json:"commands,omitempty"`
	Error    string           `json:"error,omitempty"`
	Skips    []discovery.Skip `json:"skips,omitempty"`
}

// Exchanger sends one request and receives one response.
type Exchanger interface {
	Exchange(ctx context.Context, request Request) (Response, error)
}

// Discoverer runs one discovery pass.
type Discoverer interface {
	Discover(ctx context.Context, root string) (discovery.Result, error)
}

// Serve reads one request from r, runs discovery, and writes one response to w.
//
// Request and discovery failures are reported in the response. The returned
// error only covers writing it.
func Serve(ctx context.Context, r io.Reader, w io.Writer, discoverer Discoverer) error {
	response := handle(ctx, r, discoverer)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	return nil
}

func handle(ctx context.Context, r io.Reader, discoverer Discoverer) (response Response) {
	defer func() {
		if recovered := recover(); recovered != nil {
			response = failure(fmt.Errorf("discovery panic: %v", recovered))
		}
	}()

	var request Request
	if err := json.NewDecoder(r).Decode(&request); err != nil {
		return failure(fmt.Errorf("decode request: %w", err))
	}
	if request.Command != CommandLoadCommands {
		return failure(fmt.Errorf("%w %q", ErrUnknownVerb, request.Command))
	}

	result, err := discoverer.Discover(ctx, request.Root)
	if err != nil {
		return failure(err)
	}
	encoded, err := json.Marshal(result.Catalog)
	if err != nil {
		return failure(fmt.Errorf("encode catalog: %w", err))
	}

	return Response{
		Success:  true,
		Commands: string(encoded),
		Skips:    result.Skips,
	}
}

func failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// DecodeCatalog returns the catalog carried by response.
func DecodeCatalog(response Response) (plugin.Catalog, error) {
	if !response.Success {
		return nil, fmt.Errorf("%w: %s", plugin.ErrDiscoveryAbort, response.Error)
	}

	commands := make(plugin.Catalog)
	if response.Commands == "" {
		return commands, nil
	}
	if err := json.Unmarshal([]byte(response.Commands), &commands); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for name, descriptor := range commands {
		if descriptor.Name != name {
			return nil, fmt.Errorf("%w: catalog key %q holds command %q", plugin.ErrInvalidDescriptor, name, descriptor.Name)
		}
		if err := descriptor.Validate(); err != nil {
			return nil, err
		}
	}

	return commands, nil
}

// LoadResult summarizes one Load call.
type LoadResult struct {
	Loaded int
	Skips  []discovery.Skip
}

// Load runs one exchange for root and fills store with the returned catalog in
// sorted name order.
func Load(
	ctx context.Context,
	exchanger Exchanger,
	root string,
	store *catalog.Store[string, plugin.Descriptor],
) (LoadResult, error) {
	if exchanger == nil {
		return LoadResult{}, fmt.Errorf("load commands: nil exchanger")
	}
	if store == nil {
		return LoadResult{}, fmt.Errorf("load commands: nil store")
	}

	response, err := exchanger.Exchange(ctx, Request{Command: CommandLoadCommands, Root: root})
	if err != nil {
		return LoadResult{}, fmt.Errorf("load commands exchange: %w", err)
	}
	commands, err := DecodeCatalog(response)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load commands: %w", err)
	}

	result := LoadResult{Skips: response.Skips}
	for _, name := range commands.Names() {
		err := store.Set(name, commands[name])
		switch {
		case errors.Is(err, catalog.ErrInvalidKey):
			result.Skips = append(result.Skips, discovery.Skip{Path: commands[name].Source, Reason: err.Error()})
			continue
		case err != nil:
			return LoadResult{}, fmt.Errorf("load commands store %s: %w", name, err)
		}
		result.Loaded++
	}

	return result, nil
}

func decodeResponse(raw []byte) (Response, error) {
	var response Response
	if err := json.Unmarshal(raw, &response); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}

	return response, nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}

	return logger
}
