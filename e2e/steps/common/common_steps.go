package common

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(ctx context.Context, path string) error
	Status() int
	Body() []byte
	GetResponseField(field string) (any, error)
	SetPrincipal(p string)
}

// RegisterSteps registers background and assertion steps shared by all features
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the certstore API is healthy$`, steps.apiIsHealthy)
	ctx.Step(`^I act as "([^"]*)"$`, steps.actAs)
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be (\d+)$`, steps.numericFieldShouldBe)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) apiIsHealthy(ctx context.Context) error {
	if err := s.tc.GET(ctx, "/healthz"); err != nil {
		return err
	}
	return s.statusShouldBe(ctx, 200)
}

func (s *commonSteps) actAs(_ context.Context, principal string) error {
	s.tc.SetPrincipal(principal)
	return nil
}

func (s *commonSteps) statusShouldBe(_ context.Context, want int) error {
	if got := s.tc.Status(); got != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, got, s.tc.Body())
	}
	return nil
}

func (s *commonSteps) fieldShouldBe(_ context.Context, field, want string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("expected %s to be %q, got %q", field, want, got)
	}
	return nil
}

func (s *commonSteps) numericFieldShouldBe(_ context.Context, field string, want int) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	n, ok := v.(float64)
	if !ok || int(n) != want {
		return fmt.Errorf("expected %s to be %d, got %v", field, want, v)
	}
	return nil
}
