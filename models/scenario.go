package models

// ActionKind identifies one kind of in-page instruction.
type ActionKind string

const (
	ActionWait        ActionKind = "wait"
	ActionWaitFor     ActionKind = "wait_for"
	ActionWaitBrowser ActionKind = "wait_browser"
	ActionClick       ActionKind = "click"
	ActionFill        ActionKind = "fill"
	ActionScrollX     ActionKind = "scroll_x"
	ActionScrollY     ActionKind = "scroll_y"
	ActionEvaluate    ActionKind = "evaluate"
)

// Param is the tagged parameter of an instruction. Exactly one field is
// meaningful for a given action; which one is enforced at parse time.
type Param struct {
	Num  float64  `json:"num,omitempty"`
	Str  string   `json:"str,omitempty"`
	List []string `json:"list,omitempty"`
}

// Instruction is a single validated in-page action.
type Instruction struct {
	Action ActionKind `json:"action"`
	Param  Param      `json:"param"`
}

// Scenario is an ordered list of instructions executed before extraction.
// When Strict is true, execution stops at the first failed instruction.
type Scenario struct {
	Instructions []Instruction `json:"instructions"`
	Strict       bool          `json:"strict"`
}

// Empty reports whether the scenario has nothing to execute.
func (s *Scenario) Empty() bool {
	return s == nil || len(s.Instructions) == 0
}

// InstructionReport describes the outcome of one executed instruction.
type InstructionReport struct {
	Action     ActionKind `json:"action"`
	Param      Param      `json:"param"`
	Success    bool       `json:"success"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration"`
}

// ScenarioReport aggregates the outcome of a whole scenario run.
type ScenarioReport struct {
	Instructions    []InstructionReport `json:"instructions"`
	Executed        int                 `json:"executed"`
	Succeeded       int                 `json:"succeeded"`
	Failed          int                 `json:"failed"`
	TotalDurationMs int64               `json:"totalDuration"`

	// EvaluateResults collects the stringified return values of every
	// successful evaluate instruction, in execution order.
	EvaluateResults []string `json:"-"`
}
