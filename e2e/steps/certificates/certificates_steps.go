package certificates

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(ctx context.Context, path string, body any) error
	GET(ctx context.Context, path string) error
	Serial(n int) *big.Int
}

// RegisterSteps registers certificate lifecycle step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &certificateSteps{tc: tc}

	// Issuance
	ctx.Step(`^certificate #(\d+) is issued valid for (\d+) hours$`, steps.issueValid)
	ctx.Step(`^certificate #(\d+) is issued becoming valid in (\d+) seconds$`, steps.issueFuture)

	// Revocation
	ctx.Step(`^I revoke certificate #(\d+) with reason "([^"]*)"$`, steps.revoke)
	ctx.Step(`^I unrevoke certificate #(\d+)$`, steps.unrevoke)

	// Queries
	ctx.Step(`^I fetch certificate #(\d+)$`, steps.fetch)
	ctx.Step(`^I search certificates #(\d+) to #(\d+) with status "([^"]*)"$`, steps.searchByStatus)

	// Lifecycle
	ctx.Step(`^I wait (\d+) seconds$`, steps.wait)
	ctx.Step(`^I trigger a sweep$`, steps.sweep)
}

type certificateSteps struct {
	tc TestContext
}

func issue(serial *big.Int, notBefore, notAfter time.Time) ([]byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "e2e-" + serial.String()},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	return x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
}

func (s *certificateSteps) create(ctx context.Context, n int, notBefore, notAfter time.Time) error {
	der, err := issue(s.tc.Serial(n), notBefore, notAfter)
	if err != nil {
		return fmt.Errorf("issue certificate: %w", err)
	}
	return s.tc.POST(ctx, "/certificates", map[string]any{"der": der})
}

func (s *certificateSteps) issueValid(ctx context.Context, n, hours int) error {
	now := time.Now()
	return s.create(ctx, n, now.Add(-time.Minute), now.Add(time.Duration(hours)*time.Hour))
}

func (s *certificateSteps) issueFuture(ctx context.Context, n, seconds int) error {
	now := time.Now()
	return s.create(ctx, n, now.Add(time.Duration(seconds)*time.Second), now.Add(24*time.Hour))
}

func (s *certificateSteps) revoke(ctx context.Context, n int, reason string) error {
	return s.tc.POST(ctx, fmt.Sprintf("/certificates/%s/revoke", s.tc.Serial(n)), map[string]any{"reason": reason})
}

func (s *certificateSteps) unrevoke(ctx context.Context, n int) error {
	return s.tc.POST(ctx, fmt.Sprintf("/certificates/%s/unrevoke", s.tc.Serial(n)), nil)
}

func (s *certificateSteps) fetch(ctx context.Context, n int) error {
	return s.tc.GET(ctx, "/certificates/"+s.tc.Serial(n).String())
}

func (s *certificateSteps) searchByStatus(ctx context.Context, from, to int, status string) error {
	filter := fmt.Sprintf("(&(status=%s)(serialNumber>=%s)(serialNumber<=%s))", status, s.tc.Serial(from), s.tc.Serial(to))
	q := url.Values{"filter": {filter}, "page_size": {"50"}}
	return s.tc.GET(ctx, "/certificates?"+q.Encode())
}

func (s *certificateSteps) wait(ctx context.Context, seconds int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(seconds) * time.Second):
		return nil
	}
}

func (s *certificateSteps) sweep(ctx context.Context) error {
	return s.tc.POST(ctx, "/admin/sweep", nil)
}
