package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs the scenarios against the server at CERTSTORE_E2E_URL.
func TestFeatures(t *testing.T) {
	baseURL := os.Getenv("CERTSTORE_E2E_URL")
	if baseURL == "" {
		t.Skip("CERTSTORE_E2E_URL not set")
	}
	token := os.Getenv("CERTSTORE_E2E_ADMIN_TOKEN")

	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			tc := NewTestContext(baseURL, token)
			sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				return ctx, tc.Reset()
			})
			RegisterSteps(sc, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("e2e scenarios failed")
	}
}
