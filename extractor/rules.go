package extractor

import (
	"fmt"
	"strings"
)

// maxRuleDepth bounds nested rule recursion. The rule tree is parsed from
// acyclic JSON so cycles cannot occur, but pathological inputs still get a
// hard ceiling.
const maxRuleDepth = 32

// Cardinality selects between "first match" and "every match".
type Cardinality string

const (
	CardinalityItem Cardinality = "item"
	CardinalityList Cardinality = "list"
)

// OutputKind identifies how a matched element is turned into a value.
type OutputKind int

const (
	OutputText OutputKind = iota
	OutputHTML
	OutputTableJSON
	OutputTableArray
	OutputAttribute
	OutputNested
)

// Output is a tagged union: exactly one of Attribute/Nested is populated,
// depending on Kind.
type Output struct {
	Kind      OutputKind
	Attribute string
	Nested    Rules
}

// Rule describes what to select and how to shape the extracted value.
// Rules are built once per request from untrusted input and are immutable
// afterwards.
type Rule struct {
	Selector    string
	Cardinality Cardinality
	Output      Output
	Clean       bool
}

// Rules maps result keys to their extraction rules.
type Rules map[string]Rule

// Compile validates a raw rule tree (decoded JSON) and transforms both the
// shorthand notation ("selector" or "selector@attr") and the full object form
// into Rules. All validation happens here; Extract never fails on rule shape.
func Compile(raw map[string]any) (Rules, error) {
	return compile(raw, 0)
}

func compile(raw map[string]any, depth int) (Rules, error) {
	if depth >= maxRuleDepth {
		return nil, fmt.Errorf("extract rules nested deeper than %d levels", maxRuleDepth)
	}

	rules := make(Rules, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			rule, err := compileShorthand(key, v)
			if err != nil {
				return nil, err
			}
			rules[key] = rule
		case map[string]any:
			rule, err := compileFull(key, v, depth)
			if err != nil {
				return nil, err
			}
			rules[key] = rule
		default:
			return nil, fmt.Errorf("extract rule for %s in a wrong format, expected object or a string", key)
		}
	}
	return rules, nil
}

// compileShorthand handles the bare-selector notation, optionally suffixed
// with "@attr" to request an attribute instead of text.
func compileShorthand(key, raw string) (Rule, error) {
	trimmed := strings.TrimSpace(raw)

	if at := strings.IndexByte(trimmed, '@'); at >= 0 {
		selector := trimmed[:at]
		if selector == "" {
			return Rule{}, fmt.Errorf("selector cannot be an empty string, rule: %s for key %s", trimmed, key)
		}
		attr := trimmed[at+1:]
		if attr == "" {
			return Rule{}, fmt.Errorf("attribute name cannot be an empty string, rule: %s for key %s", trimmed, key)
		}
		return Rule{
			Selector:    selector,
			Cardinality: CardinalityItem,
			Output:      Output{Kind: OutputAttribute, Attribute: attr},
			Clean:       true,
		}, nil
	}

	if trimmed == "" {
		return Rule{}, fmt.Errorf("selector must be a non-empty string, rule for key: %s", key)
	}
	return Rule{
		Selector:    trimmed,
		Cardinality: CardinalityItem,
		Output:      Output{Kind: OutputText},
		Clean:       true,
	}, nil
}

// compileFull handles the object notation with selector/type/output/clean.
func compileFull(key string, raw map[string]any, depth int) (Rule, error) {
	rule := Rule{Cardinality: CardinalityItem, Output: Output{Kind: OutputText}, Clean: true}

	selector, ok := raw["selector"].(string)
	if !ok || selector == "" {
		return Rule{}, fmt.Errorf("selector must be a non-empty string, rule for key: %s", key)
	}
	rule.Selector = selector

	if rawType, present := raw["type"]; present {
		t, ok := rawType.(string)
		if !ok || (t != string(CardinalityItem) && t != string(CardinalityList)) {
			return Rule{}, fmt.Errorf("type can be either 'item' or 'list', rule for key: %s", key)
		}
		rule.Cardinality = Cardinality(t)
	}

	if rawClean, present := raw["clean"]; present {
		clean, ok := rawClean.(bool)
		if !ok {
			return Rule{}, fmt.Errorf("clean can be set either to true or false, rule for key: %s", key)
		}
		rule.Clean = clean
	}

	if rawOutput, present := raw["output"]; present {
		output, err := compileOutput(key, rawOutput, depth)
		if err != nil {
			return Rule{}, err
		}
		rule.Output = output
	}

	return rule, nil
}

func compileOutput(key string, raw any, depth int) (Output, error) {
	switch v := raw.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		switch trimmed {
		case "text":
			return Output{Kind: OutputText}, nil
		case "html":
			return Output{Kind: OutputHTML}, nil
		case "table_json":
			return Output{Kind: OutputTableJSON}, nil
		case "table_array":
			return Output{Kind: OutputTableArray}, nil
		}
		if strings.HasPrefix(trimmed, "@") && len(trimmed) > 1 {
			return Output{Kind: OutputAttribute, Attribute: trimmed[1:]}, nil
		}
		return Output{}, fmt.Errorf(
			"output in the extract rule for %s has invalid value, expected one of [\"text\",\"html\",\"table_json\",\"table_array\"] or an attribute name starting with '@'", key)
	case map[string]any:
		nested, err := compile(v, depth+1)
		if err != nil {
			return Output{}, err
		}
		return Output{Kind: OutputNested, Nested: nested}, nil
	default:
		return Output{}, fmt.Errorf("output in the extract rule for %s in a wrong format, expected object or a string", key)
	}
}
