package scenario

import (
	"strings"
	"testing"

	"github.com/use-agent/apiary/models"
)

func TestParse_FullScenario(t *testing.T) {
	raw := `{
		"instructions": [
			{"wait": 500},
			{"wait_for": "#content"},
			{"wait_browser": "networkidle"},
			{"click": "#accept"},
			{"fill": ["#search", "hello"]},
			{"scroll_y": 1080},
			{"evaluate": "document.title"}
		],
		"strict": true
	}`

	sc, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sc.Strict {
		t.Error("strict flag not carried over")
	}
	if len(sc.Instructions) != 7 {
		t.Fatalf("instruction count = %d, want 7", len(sc.Instructions))
	}

	wantActions := []models.ActionKind{
		models.ActionWait, models.ActionWaitFor, models.ActionWaitBrowser,
		models.ActionClick, models.ActionFill, models.ActionScrollY,
		models.ActionEvaluate,
	}
	for i, want := range wantActions {
		if sc.Instructions[i].Action != want {
			t.Errorf("instruction %d = %s, want %s", i, sc.Instructions[i].Action, want)
		}
	}

	fill := sc.Instructions[4]
	if fill.Param.List[0] != "#search" || fill.Param.List[1] != "hello" {
		t.Errorf("fill param = %v", fill.Param.List)
	}
}

func TestParse_WaitClamped(t *testing.T) {
	sc, err := Parse([]byte(`{"instructions":[{"wait": 99999}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sc.Instructions[0].Param.Num; got != maxWaitMs {
		t.Errorf("wait = %v, want clamped to %d", got, maxWaitMs)
	}

	sc, err = Parse([]byte(`{"instructions":[{"wait": -5}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sc.Instructions[0].Param.Num; got != 0 {
		t.Errorf("negative wait = %v, want 0", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantSub string
	}{
		{"invalid json", `{"instructions": [}`, "not valid JSON"},
		{"two actions in one entry", `{"instructions":[{"wait":1,"click":"#a"}]}`, "exactly one action"},
		{"empty entry", `{"instructions":[{}]}`, "exactly one action"},
		{"unknown action", `{"instructions":[{"hover":"#a"}]}`, "unsupported instruction"},
		{"wait not a number", `{"instructions":[{"wait":"soon"}]}`, "number value expected"},
		{"click not a string", `{"instructions":[{"click":7}]}`, "string value expected"},
		{"empty selector", `{"instructions":[{"click":""}]}`, "non-empty string expected"},
		{"bad browser state", `{"instructions":[{"wait_browser":"idle"}]}`, "unsupported browser state"},
		{"fill not a pair", `{"instructions":[{"fill":["#a"]}]}`, "fill expects"},
		{"fill empty selector", `{"instructions":[{"fill":["", "v"]}]}`, "fill selector cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected an error, got none")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestParse_EmptyScenario(t *testing.T) {
	sc, err := Parse([]byte(`{"instructions":[]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sc.Empty() {
		t.Error("scenario with no instructions should report empty")
	}
}
