package e2e

import (
	"github.com/cucumber/godog"

	"certstore/e2e/steps/certificates"
	"certstore/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (background, generic assertions)
	common.RegisterSteps(ctx, tc)

	// Register certificate lifecycle steps
	certificates.RegisterSteps(ctx, tc)
}
