// Package e2e drives a running certstore over its admin API with godog
// scenarios.
package e2e

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// TestContext holds per-scenario state: the API location, the last response
// and the serial block certificates of this scenario are issued from.
type TestContext struct {
	BaseURL    string
	AdminToken string
	Principal  string

	client     *http.Client
	serialBase *big.Int
	status     int
	body       []byte
}

// NewTestContext creates a context for one scenario.
func NewTestContext(baseURL, adminToken string) *TestContext {
	return &TestContext{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Reset draws a fresh serial block so scenarios never collide on a shared server.
func (tc *TestContext) Reset() error {
	base, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return err
	}
	tc.serialBase = base.Mul(base, big.NewInt(1000))
	tc.Principal = ""
	tc.status, tc.body = 0, nil
	return nil
}

// Serial maps a scenario-local certificate number to its real serial.
func (tc *TestContext) Serial(n int) *big.Int {
	return new(big.Int).Add(tc.serialBase, big.NewInt(int64(n)))
}

func (tc *TestContext) do(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, tc.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", tc.AdminToken)
	if tc.Principal != "" {
		req.Header.Set("X-Principal", tc.Principal)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.status = resp.StatusCode
	tc.body, err = io.ReadAll(resp.Body)
	return err
}

// POST sends body as JSON.
func (tc *TestContext) POST(ctx context.Context, path string, body any) error {
	return tc.do(ctx, http.MethodPost, path, body)
}

// GET fetches path.
func (tc *TestContext) GET(ctx context.Context, path string) error {
	return tc.do(ctx, http.MethodGet, path, nil)
}

// Status is the status code of the last response.
func (tc *TestContext) Status() int { return tc.status }

// Body is the raw body of the last response.
func (tc *TestContext) Body() []byte { return tc.body }

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var m map[string]any
	if err := json.Unmarshal(tc.body, &m); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	v, ok := m[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response %s", field, tc.body)
	}
	return v, nil
}

// SetPrincipal makes following requests act as p.
func (tc *TestContext) SetPrincipal(p string) { tc.Principal = p }
