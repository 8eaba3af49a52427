package extractor

import (
	"strings"
	"testing"
)

func TestCompile_Shorthand(t *testing.T) {
	rules, err := Compile(map[string]any{"title": "h1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rule := rules["title"]
	if rule.Selector != "h1" {
		t.Errorf("selector = %q, want h1", rule.Selector)
	}
	if rule.Cardinality != CardinalityItem {
		t.Errorf("cardinality = %q, want item", rule.Cardinality)
	}
	if rule.Output.Kind != OutputText {
		t.Errorf("output kind = %d, want text", rule.Output.Kind)
	}
	if !rule.Clean {
		t.Error("shorthand rules should default to clean")
	}
}

func TestCompile_ShorthandAttribute(t *testing.T) {
	rules, err := Compile(map[string]any{"link": "a.main@href"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rule := rules["link"]
	if rule.Selector != "a.main" {
		t.Errorf("selector = %q, want a.main", rule.Selector)
	}
	if rule.Output.Kind != OutputAttribute || rule.Output.Attribute != "href" {
		t.Errorf("output = %+v, want href attribute", rule.Output)
	}
}

func TestCompile_FullForm(t *testing.T) {
	rules, err := Compile(map[string]any{
		"links": map[string]any{
			"selector": "a",
			"type":     "list",
			"clean":    false,
			"output":   "@href",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rule := rules["links"]
	if rule.Cardinality != CardinalityList {
		t.Errorf("cardinality = %q, want list", rule.Cardinality)
	}
	if rule.Clean {
		t.Error("clean should be false when explicitly disabled")
	}
	if rule.Output.Kind != OutputAttribute || rule.Output.Attribute != "href" {
		t.Errorf("output = %+v, want href attribute", rule.Output)
	}
}

func TestCompile_NestedOutput(t *testing.T) {
	rules, err := Compile(map[string]any{
		"posts": map[string]any{
			"selector": "div.post",
			"type":     "list",
			"output": map[string]any{
				"title": "h2",
				"url":   "a@href",
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rule := rules["posts"]
	if rule.Output.Kind != OutputNested {
		t.Fatalf("output kind = %d, want nested", rule.Output.Kind)
	}
	if len(rule.Output.Nested) != 2 {
		t.Errorf("nested rule count = %d, want 2", len(rule.Output.Nested))
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		wantSub string
	}{
		{"empty shorthand", map[string]any{"k": ""}, "selector must be a non-empty string"},
		{"empty selector with attr", map[string]any{"k": "@href"}, "selector cannot be an empty string"},
		{"empty attr", map[string]any{"k": "a@"}, "attribute name cannot be an empty string"},
		{"wrong value type", map[string]any{"k": 42.0}, "wrong format"},
		{"missing selector", map[string]any{"k": map[string]any{"type": "list"}}, "selector must be a non-empty string"},
		{"bad type", map[string]any{"k": map[string]any{"selector": "a", "type": "all"}}, "either 'item' or 'list'"},
		{"bad clean", map[string]any{"k": map[string]any{"selector": "a", "clean": "yes"}}, "clean can be set"},
		{"bad output", map[string]any{"k": map[string]any{"selector": "a", "output": "markdown"}}, "invalid value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.raw)
			if err == nil {
				t.Fatal("expected an error, got none")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestCompile_DepthLimit(t *testing.T) {
	raw := map[string]any{"leaf": "span"}
	for i := 0; i < maxRuleDepth+1; i++ {
		raw = map[string]any{
			"level": map[string]any{
				"selector": "div",
				"output":   raw,
			},
		}
	}

	if _, err := Compile(raw); err == nil {
		t.Fatal("expected a depth error for a deeply nested rule tree")
	}
}
