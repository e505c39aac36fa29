package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"groundwork-mcp-server/internal/page"
	"groundwork-mcp-server/internal/roadmap"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// scrollStep is how far a scroll step without a target moves the viewport.
const scrollStep = 600

// LivePage is the engine's view of one session's Rod page. Every read
// re-enumerates the document; nothing is cached between actions.
type LivePage struct {
	page       *rod.Page
	registry   *ElementRegistry
	navTimeout time.Duration
	logger     *zap.Logger
}

func newLivePage(p *rod.Page, registry *ElementRegistry, navTimeout time.Duration, logger *zap.Logger) *LivePage {
	if registry == nil {
		registry = NewElementRegistry()
	}
	return &LivePage{page: p, registry: registry, navTimeout: navTimeout, logger: logger}
}

func (p *LivePage) eval(ctx context.Context, js string, out interface{}, args ...interface{}) error {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return res.Value.Unmarshal(out)
}

// enumerate stamps and reads every interactive element, rendered or not.
func (p *LivePage) enumerate(ctx context.Context) ([]page.InteractiveElement, error) {
	var all []page.InteractiveElement
	if err := p.eval(ctx, enumerateScript, &all); err != nil {
		return nil, fmt.Errorf("enumerate elements: %w", err)
	}
	for i := range all {
		all[i].Text = page.NormalizeText(all[i].Text)
		all[i].Label = page.NormalizeText(all[i].Label)
	}
	p.registry.RegisterBatch(all)
	return all, nil
}

// Elements returns the rendered interactive elements in document order.
func (p *LivePage) Elements(ctx context.Context) ([]page.InteractiveElement, error) {
	all, err := p.enumerate(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]page.InteractiveElement, 0, len(all))
	for _, el := range all {
		if el.Rendered() {
			out = append(out, el)
		}
	}
	return out, nil
}

// Lookup finds id in a fresh enumeration.
func (p *LivePage) Lookup(ctx context.Context, id string) (page.InteractiveElement, bool, error) {
	if _, err := p.enumerate(ctx); err != nil {
		return page.InteractiveElement{}, false, err
	}
	el, ok := p.registry.Get(id)
	return el, ok, nil
}

func (p *LivePage) Content(ctx context.Context) (page.Content, error) {
	var c page.Content
	if err := p.eval(ctx, contentScript, &c); err != nil {
		return page.Content{}, fmt.Errorf("read page content: %w", err)
	}
	return c, nil
}

func (p *LivePage) State(ctx context.Context) (page.State, error) {
	var s page.State
	if err := p.eval(ctx, stateScript, &s); err != nil {
		return page.State{}, fmt.Errorf("read page state: %w", err)
	}
	return s, nil
}

func (p *LivePage) Origin(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// Dispatch performs step against el.
func (p *LivePage) Dispatch(ctx context.Context, step roadmap.Step, el page.InteractiveElement) error {
	verb := step.Verb()
	p.logger.Debug("dispatch", zap.String("verb", verb), zap.String("element", el.ID))

	if target := step.NavigationURL(); target != "" {
		return p.navigate(ctx, target)
	}
	if verb == "scroll" && el.ID == "" {
		return p.page.Context(ctx).Mouse.Scroll(0, scrollStep, 1)
	}

	handle, err := p.handle(ctx, el.ID)
	if err != nil {
		return err
	}

	switch verb {
	case "type", "fill", "enter", "input":
		if err := handle.SelectAllText(); err != nil {
			p.logger.Debug("select text before typing failed", zap.Error(err))
		}
		return handle.Input(step.Value)
	case "select", "choose":
		if err := handle.Select([]string{step.Value}, true, rod.SelectorTypeText); err == nil {
			return nil
		}
		var ok bool
		if err := p.eval(ctx, setValueScript, &ok, el.ID, step.Value); err != nil {
			return fmt.Errorf("select %q: %w", step.Value, err)
		}
		if !ok {
			return fmt.Errorf("select %q: element %s vanished", step.Value, el.ID)
		}
		return nil
	case "press":
		key, ok := keyNamed(step.Value)
		if !ok {
			return fmt.Errorf("unsupported key %q", step.Value)
		}
		return handle.Type(key)
	case "scroll":
		return handle.ScrollIntoView()
	case "hover":
		return handle.Hover()
	default:
		return p.click(handle)
	}
}

// keyNamed maps a step value to a keyboard key. Empty means Enter.
func keyNamed(name string) (input.Key, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "enter", "return":
		return input.Enter, true
	case "tab":
		return input.Tab, true
	case "escape", "esc":
		return input.Escape, true
	case "space":
		return input.Space, true
	case "arrowdown", "down":
		return input.ArrowDown, true
	case "arrowup", "up":
		return input.ArrowUp, true
	}
	return 0, false
}

func (p *LivePage) handle(ctx context.Context, id string) (*rod.Element, error) {
	if id == "" {
		return nil, fmt.Errorf("no target element")
	}
	found, err := p.page.Context(ctx).Elements(fmt.Sprintf(`[data-agent-id="%s"]`, id))
	if err != nil {
		return nil, fmt.Errorf("find element %s: %w", id, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("element %s is no longer on the page", id)
	}
	return found.First(), nil
}

func (p *LivePage) click(el *rod.Element) error {
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *LivePage) navigate(ctx context.Context, url string) error {
	nav := p.page.Context(ctx)
	if p.navTimeout > 0 {
		nav = nav.Timeout(p.navTimeout)
	}
	if err := nav.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := nav.WaitLoad(); err != nil {
		p.logger.Warn("page load incomplete", zap.String("url", url), zap.Error(err))
	}
	return nil
}
