package scenario

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/use-agent/apiary/models"
)

// fakePage records every call and fails the selectors listed in failOn.
type fakePage struct {
	calls  []string
	failOn map[string]bool
	evals  map[string]string
}

func (f *fakePage) fail(key string) error {
	if f.failOn[key] {
		return errors.New("element not found")
	}
	return nil
}

func (f *fakePage) WaitForSelector(_ context.Context, sel string) error {
	f.calls = append(f.calls, "wait_for:"+sel)
	return f.fail(sel)
}

func (f *fakePage) WaitForState(_ context.Context, state string) error {
	f.calls = append(f.calls, "wait_browser:"+state)
	return f.fail(state)
}

func (f *fakePage) Click(_ context.Context, sel string) error {
	f.calls = append(f.calls, "click:"+sel)
	return f.fail(sel)
}

func (f *fakePage) Fill(_ context.Context, sel, value string) error {
	f.calls = append(f.calls, fmt.Sprintf("fill:%s=%s", sel, value))
	return f.fail(sel)
}

func (f *fakePage) ScrollBy(_ context.Context, dx, dy float64) error {
	f.calls = append(f.calls, fmt.Sprintf("scroll:%v,%v", dx, dy))
	return nil
}

func (f *fakePage) Evaluate(_ context.Context, script string) (string, error) {
	f.calls = append(f.calls, "evaluate:"+script)
	if f.failOn[script] {
		return "", errors.New("eval failed")
	}
	return f.evals[script], nil
}

func click(sel string) models.Instruction {
	return models.Instruction{Action: models.ActionClick, Param: models.Param{Str: sel}}
}

func evaluate(script string) models.Instruction {
	return models.Instruction{Action: models.ActionEvaluate, Param: models.Param{Str: script}}
}

func TestRun_SequentialOrder(t *testing.T) {
	page := &fakePage{}
	sc := &models.Scenario{Instructions: []models.Instruction{
		{Action: models.ActionWaitFor, Param: models.Param{Str: "#a"}},
		{Action: models.ActionFill, Param: models.Param{List: []string{"#q", "go"}}},
		click("#submit"),
		{Action: models.ActionScrollY, Param: models.Param{Num: 300}},
	}}

	report := Run(context.Background(), sc, page)

	want := []string{"wait_for:#a", "fill:#q=go", "click:#submit", "scroll:0,300"}
	if len(page.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", page.calls, want)
	}
	for i := range want {
		if page.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, page.calls[i], want[i])
		}
	}
	if report.Executed != 4 || report.Succeeded != 4 || report.Failed != 0 {
		t.Errorf("report counts = %d/%d/%d", report.Executed, report.Succeeded, report.Failed)
	}
}

func TestRun_NonStrictContinuesPastFailure(t *testing.T) {
	page := &fakePage{failOn: map[string]bool{"#missing": true}}
	sc := &models.Scenario{Instructions: []models.Instruction{
		click("#a"),
		click("#missing"),
		click("#b"),
	}}

	report := Run(context.Background(), sc, page)

	if report.Executed != 3 {
		t.Errorf("executed = %d, want 3 (run continues past failures)", report.Executed)
	}
	if report.Succeeded != 2 || report.Failed != 1 {
		t.Errorf("succeeded/failed = %d/%d, want 2/1", report.Succeeded, report.Failed)
	}
	if report.Instructions[1].Success || report.Instructions[1].Error == "" {
		t.Errorf("failed instruction not recorded: %+v", report.Instructions[1])
	}
}

func TestRun_StrictStopsAtFirstFailure(t *testing.T) {
	page := &fakePage{failOn: map[string]bool{"#missing": true}}
	sc := &models.Scenario{
		Strict: true,
		Instructions: []models.Instruction{
			click("#a"),
			click("#missing"),
			click("#b"),
		},
	}

	report := Run(context.Background(), sc, page)

	if report.Executed != 2 {
		t.Errorf("executed = %d, want 2 (strict stops after the failure)", report.Executed)
	}
	if report.Failed != 1 {
		t.Errorf("failed = %d, want 1", report.Failed)
	}
	for _, call := range page.calls {
		if call == "click:#b" {
			t.Error("instruction after the strict failure was executed")
		}
	}
}

func TestRun_CollectsEvaluateResults(t *testing.T) {
	page := &fakePage{
		failOn: map[string]bool{"broken()": true},
		evals: map[string]string{
			"document.title": "Example",
			"location.href":  "https://example.com/",
		},
	}
	sc := &models.Scenario{Instructions: []models.Instruction{
		evaluate("document.title"),
		evaluate("broken()"),
		evaluate("location.href"),
	}}

	report := Run(context.Background(), sc, page)

	want := []string{"Example", "https://example.com/"}
	if len(report.EvaluateResults) != len(want) {
		t.Fatalf("evaluate results = %v, want %v", report.EvaluateResults, want)
	}
	for i := range want {
		if report.EvaluateResults[i] != want[i] {
			t.Errorf("result %d = %q, want %q", i, report.EvaluateResults[i], want[i])
		}
	}
}

func TestRun_EmptyScenario(t *testing.T) {
	report := Run(context.Background(), &models.Scenario{}, &fakePage{})
	if report.Executed != 0 || len(report.Instructions) != 0 {
		t.Errorf("empty scenario produced work: %+v", report)
	}
}

func TestRun_WaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sc := &models.Scenario{Instructions: []models.Instruction{
		{Action: models.ActionWait, Param: models.Param{Num: 30000}},
	}}

	report := Run(ctx, sc, &fakePage{})
	if report.Failed != 1 {
		t.Errorf("cancelled wait should fail, report: %+v", report)
	}
	if report.TotalDurationMs > 1000 {
		t.Errorf("cancelled wait took %dms, should return promptly", report.TotalDurationMs)
	}
}
