package mfa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cleared-dev/harvest/internal/api/respond"
	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/store"
)

// Client reaches the out-of-band challenge channel served under /mfa by
// the aggregating service. It implements ChallengeStore for a relay running
// in a separate extraction process, and the submit side used by the CLI.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the service at baseURL. A nil hc uses a
// client with a 10 second timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// PutChallenge registers ch, replacing any outstanding challenge.
func (c *Client) PutChallenge(ctx context.Context, ch model.MFAChallenge) error {
	return c.do(ctx, http.MethodPut, ch.BankID, ch, nil)
}

// GetChallenge fetches the outstanding challenge for bankID.
func (c *Client) GetChallenge(ctx context.Context, bankID string) (model.MFAChallenge, error) {
	var ch model.MFAChallenge
	if err := c.do(ctx, http.MethodGet, bankID, nil, &ch); err != nil {
		return model.MFAChallenge{}, err
	}
	return ch, nil
}

// Submit fills in an option and/or code on the outstanding challenge.
func (c *Client) Submit(ctx context.Context, bankID string, u model.MFAUpdate) error {
	return c.do(ctx, http.MethodPost, bankID, u, nil)
}

// DeleteChallenge removes the challenge for bankID.
func (c *Client) DeleteChallenge(ctx context.Context, bankID string) error {
	return c.do(ctx, http.MethodDelete, bankID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, bankID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/mfa/"+url.PathEscape(bankID), reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s /mfa/%s: %w", method, bankID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("challenge for %s: %w", bankID, store.ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if env, err := respond.Decode(data, nil); err == nil && env.Message != "" {
			msg = env.Message
		}
		return fmt.Errorf("%s /mfa/%s: %s: %s", method, bankID, resp.Status, msg)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if _, err := respond.Decode(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
