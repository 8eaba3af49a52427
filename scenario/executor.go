package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/apiary/models"
)

// Page is the renderer capability the executor drives. Implementations wrap
// a live browser page; tests substitute fakes.
type Page interface {
	WaitForSelector(ctx context.Context, selector string) error
	WaitForState(ctx context.Context, state string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	ScrollBy(ctx context.Context, dx, dy float64) error
	// Evaluate runs a snippet in page context and returns its result
	// flattened to text (objects serialized, primitives stringified).
	Evaluate(ctx context.Context, script string) (string, error)
}

// Run executes the scenario's instructions strictly in order against the
// page. Each instruction may depend on page state left by the previous one,
// so there is no parallelism. An instruction's own failure is recorded in
// the report and does not abort the run unless the scenario is strict.
func Run(ctx context.Context, sc *models.Scenario, page Page) *models.ScenarioReport {
	report := &models.ScenarioReport{}
	if sc.Empty() {
		return report
	}

	start := time.Now()
	for _, instr := range sc.Instructions {
		stepStart := time.Now()
		result, err := execute(ctx, instr, page)

		ir := models.InstructionReport{
			Action:     instr.Action,
			Param:      instr.Param,
			Success:    err == nil,
			DurationMs: time.Since(stepStart).Milliseconds(),
		}
		report.Executed++
		if err != nil {
			report.Failed++
			ir.Error = err.Error()
		} else {
			report.Succeeded++
			ir.Result = result
			if instr.Action == models.ActionEvaluate {
				report.EvaluateResults = append(report.EvaluateResults, result)
			}
		}
		report.Instructions = append(report.Instructions, ir)

		if err != nil && sc.Strict {
			break
		}
	}
	report.TotalDurationMs = time.Since(start).Milliseconds()
	return report
}

// execute dispatches one instruction. Parsing already rejected unknown
// actions; the default arm is belt-and-suspenders.
func execute(ctx context.Context, instr models.Instruction, page Page) (string, error) {
	switch instr.Action {
	case models.ActionWait:
		return "", sleep(ctx, time.Duration(instr.Param.Num)*time.Millisecond)
	case models.ActionWaitFor:
		return "", page.WaitForSelector(ctx, instr.Param.Str)
	case models.ActionWaitBrowser:
		return "", page.WaitForState(ctx, instr.Param.Str)
	case models.ActionClick:
		return "", page.Click(ctx, instr.Param.Str)
	case models.ActionFill:
		return "", page.Fill(ctx, instr.Param.List[0], instr.Param.List[1])
	case models.ActionScrollX:
		return "", page.ScrollBy(ctx, instr.Param.Num, 0)
	case models.ActionScrollY:
		return "", page.ScrollBy(ctx, 0, instr.Param.Num)
	case models.ActionEvaluate:
		return page.Evaluate(ctx, instr.Param.Str)
	default:
		return "", fmt.Errorf("unknown action: %s", instr.Action)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
