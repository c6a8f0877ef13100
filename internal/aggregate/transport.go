package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/api/respond"
	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/extract"
	"github.com/cleared-dev/harvest/internal/stream"
)

// Transport reaches an extraction process.
type Transport interface {
	// Catalog lists the banks the extraction process has adapters for.
	Catalog(ctx context.Context) ([]bank.Info, error)
	// Extract starts extracting one account. The caller must close the
	// returned Closer once done reading.
	Extract(ctx context.Context, req stream.Request) (stream.Decoder, io.Closer, error)
}

// Local runs the coordinator in this process, streaming through a pipe so
// chunks take the same path as over the network.
type Local struct {
	coord  *extract.Coordinator
	logger *zap.Logger
}

var _ Transport = (*Local)(nil)

// NewLocal returns a Transport around an in-process coordinator.
func NewLocal(coord *extract.Coordinator, logger *zap.Logger) *Local {
	return &Local{coord: coord, logger: logger}
}

func (l *Local) Catalog(context.Context) ([]bank.Info, error) {
	return l.coord.Catalog(), nil
}

func (l *Local) Extract(ctx context.Context, req stream.Request) (stream.Decoder, io.Closer, error) {
	pr, pw := io.Pipe()
	go func() {
		enc := stream.NewEncoder(pw, stream.FramingNDJSON)
		if err := l.coord.Extract(ctx, req, enc); err != nil {
			l.logger.Debug("local extraction ended with error", zap.String("account_id", req.Account.ID), zap.Error(err))
		}
		pw.Close()
	}()
	return stream.NewDecoder(pr, stream.FramingNDJSON), pr, nil
}

// Remote reaches a separate `harvest extractor` process over HTTP.
type Remote struct {
	baseURL string
	framing stream.Framing
	http    *http.Client
}

var _ Transport = (*Remote)(nil)

// NewRemote returns a Transport for the extractor at baseURL. Extraction
// responses are long-lived, so hc should carry no overall timeout; nil uses
// a default client.
func NewRemote(baseURL string, framing stream.Framing, hc *http.Client) *Remote {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Remote{baseURL: strings.TrimRight(baseURL, "/"), framing: framing, http: hc}
}

func (r *Remote) Catalog(ctx context.Context) ([]bank.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/banks", nil)
	if err != nil {
		return nil, fmt.Errorf("building catalog request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching bank catalog: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading bank catalog: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching bank catalog: %s", resp.Status)
	}
	var infos []bank.Info
	if _, err := respond.Decode(body, &infos); err != nil {
		return nil, fmt.Errorf("decoding bank catalog: %w", err)
	}
	return infos, nil
}

func (r *Remote) Extract(ctx context.Context, sreq stream.Request) (stream.Decoder, io.Closer, error) {
	body, err := json.Marshal(sreq)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding extraction request: %w", err)
	}
	url := r.baseURL + "/extract"
	if r.framing == stream.FramingRaw {
		url += "?framing=raw"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("building extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("starting extraction: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if env, err := respond.Decode(msg, nil); err == nil && env.Message != "" {
			msg = []byte(env.Message)
		}
		return nil, nil, fmt.Errorf("starting extraction: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return stream.NewDecoder(resp.Body, r.framing), resp.Body, nil
}
