package scenario

import (
	"encoding/json"
	"fmt"

	"github.com/use-agent/apiary/models"
)

// maxWaitMs clamps fixed delays so a single instruction cannot hold a worker
// for longer than 35 seconds.
const maxWaitMs = 35000

// browserStates are the page lifecycle states wait_browser accepts.
var browserStates = map[string]struct{}{
	"load":             {},
	"domcontentloaded": {},
	"networkidle":      {},
}

// rawScenario is the wire shape: {"instructions":[{"wait":500},...],"strict":true}.
type rawScenario struct {
	Instructions []map[string]json.RawMessage `json:"instructions"`
	Strict       bool                         `json:"strict"`
}

// Parse validates a raw js_scenario payload and returns a Scenario with
// typed, clamped instruction parameters. All shape and type violations are
// reported here so execution can assume well-formed instructions.
func Parse(raw []byte) (*models.Scenario, error) {
	var input rawScenario
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("js_scenario is not valid JSON: %w", err)
	}

	sc := &models.Scenario{Strict: input.Strict}
	for _, entry := range input.Instructions {
		if len(entry) != 1 {
			return nil, fmt.Errorf("instruction must include exactly one action with its param")
		}
		for action, rawParam := range entry {
			instr, err := parseInstruction(models.ActionKind(action), rawParam)
			if err != nil {
				return nil, err
			}
			sc.Instructions = append(sc.Instructions, instr)
		}
	}
	return sc, nil
}

func parseInstruction(action models.ActionKind, rawParam json.RawMessage) (models.Instruction, error) {
	switch action {
	case models.ActionWait:
		ms, err := numberParam(action, rawParam)
		if err != nil {
			return models.Instruction{}, err
		}
		return WaitInstruction(int(ms)), nil

	case models.ActionScrollX, models.ActionScrollY:
		delta, err := numberParam(action, rawParam)
		if err != nil {
			return models.Instruction{}, err
		}
		return models.Instruction{Action: action, Param: models.Param{Num: delta}}, nil

	case models.ActionWaitFor, models.ActionClick, models.ActionEvaluate:
		s, err := stringParam(action, rawParam)
		if err != nil {
			return models.Instruction{}, err
		}
		return models.Instruction{Action: action, Param: models.Param{Str: s}}, nil

	case models.ActionWaitBrowser:
		s, err := stringParam(action, rawParam)
		if err != nil {
			return models.Instruction{}, err
		}
		if _, ok := browserStates[s]; !ok {
			return models.Instruction{}, fmt.Errorf("unsupported browser state %q for wait_browser", s)
		}
		return models.Instruction{Action: action, Param: models.Param{Str: s}}, nil

	case models.ActionFill:
		var list []string
		if err := json.Unmarshal(rawParam, &list); err != nil || len(list) != 2 {
			return models.Instruction{}, fmt.Errorf("fill expects [selector, value]")
		}
		if list[0] == "" {
			return models.Instruction{}, fmt.Errorf("fill selector cannot be empty")
		}
		return models.Instruction{Action: action, Param: models.Param{List: list}}, nil

	default:
		return models.Instruction{}, fmt.Errorf("unsupported instruction: %s", action)
	}
}

func numberParam(action models.ActionKind, raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("number value expected for %s", action)
	}
	return n, nil
}

func stringParam(action models.ActionKind, raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("string value expected for %s", action)
	}
	if s == "" {
		return "", fmt.Errorf("non-empty string expected for %s", action)
	}
	return s, nil
}

// WaitInstruction builds a clamped fixed-delay instruction. Exposed so the
// parameter layer can prepend wait/wait_for/wait_browser shortcuts.
func WaitInstruction(ms int) models.Instruction {
	if ms > maxWaitMs {
		ms = maxWaitMs
	}
	if ms < 0 {
		ms = 0
	}
	return models.Instruction{Action: models.ActionWait, Param: models.Param{Num: float64(ms)}}
}
