package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/apiary/scenario"
)

// rodSession adapts a live rod page to the scenario.Page capability.
type rodSession struct {
	page *rod.Page
}

var _ scenario.Page = (*rodSession)(nil)

func (s *rodSession) WaitForSelector(ctx context.Context, selector string) error {
	return s.page.Context(ctx).WaitElementsMoreThan(selector, 0)
}

func (s *rodSession) WaitForState(ctx context.Context, state string) error {
	p := s.page.Context(ctx)
	switch state {
	case "load":
		return p.WaitLoad()
	case "domcontentloaded":
		return p.WaitDOMStable(300*time.Millisecond, 0.1)
	case "networkidle":
		p.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
		return ctx.Err()
	default:
		return fmt.Errorf("unsupported browser state: %s", state)
	}
}

func (s *rodSession) Click(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (s *rodSession) Fill(ctx context.Context, selector, value string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Input(value)
}

func (s *rodSession) ScrollBy(ctx context.Context, dx, dy float64) error {
	return s.page.Context(ctx).Mouse.Scroll(dx, dy, 1)
}

// Evaluate runs the snippet via an eval trampoline so both expressions and
// statement sequences work, then flattens the result to text: primitives are
// stringified, objects serialized as JSON.
func (s *rodSession) Evaluate(ctx context.Context, script string) (string, error) {
	res, err := s.page.Context(ctx).Evaluate(rod.Eval(`(code) => {
		const value = eval(code);
		return value === undefined ? null : value;
	}`, script))
	if err != nil {
		return "", err
	}
	v := res.Value
	if v.Nil() {
		return "", nil
	}
	if str, ok := v.Val().(string); ok {
		return str, nil
	}
	return v.JSON("", ""), nil
}
