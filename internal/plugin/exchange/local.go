package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Local runs discovery on a dedicated goroutine. Only encoded bytes cross
// between the caller and that goroutine.
type Local struct {
	discoverer Discoverer
	logger     *slog.Logger
}

// NewLocal creates an in-process exchanger.
func NewLocal(discoverer Discoverer, logger *slog.Logger) *Local {
	return &Local{discoverer: discoverer, logger: loggerOrDefault(logger)}
}

// Exchange implements Exchanger.
func (l *Local) Exchange(ctx context.Context, request Request) (Response, error) {
	if l == nil || l.discoverer == nil {
		return Response{}, fmt.Errorf("local exchange: nil discoverer")
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return Response{}, fmt.Errorf("local exchange encode request: %w", err)
	}

	requests := make(chan []byte, 1)
	responses := make(chan []byte, 1)
	go func() {
		raw := <-requests
		var out bytes.Buffer
		if err := Serve(ctx, bytes.NewReader(raw), &out, l.discoverer); err != nil {
			l.logger.ErrorContext(ctx, "local discovery worker failed", "error", err)
		}
		responses <- out.Bytes()
	}()
	requests <- payload

	select {
	case raw := <-responses:
		if len(raw) == 0 {
			return Response{}, fmt.Errorf("local exchange: empty response")
		}
		return decodeResponse(raw)
	case <-ctx.Done():
		return Response{}, fmt.Errorf("local exchange: %w", ctx.Err())
	}
}
