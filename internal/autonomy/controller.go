package autonomy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PageFactory returns the live page for a session.
type PageFactory func(sessionID string) (Page, error)

// Controller owns one Executor per session and the goroutines that run them.
type Controller struct {
	cfg    Config
	pages  PageFactory
	deps   Deps
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	executors map[string]*Executor
	active    map[string]bool

	// afterRun runs between a finished Run and the active check.
	afterRun func(sessionID string)
}

// NewController builds a controller. deps.Page is ignored; pages come from the factory.
func NewController(cfg Config, pages PageFactory, deps Deps) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		pages:     pages,
		deps:      deps,
		logger:    deps.Logger,
		ctx:       ctx,
		cancel:    cancel,
		executors: make(map[string]*Executor),
		active:    make(map[string]bool),
	}
}

// Executor returns the session's executor, creating it on first use.
func (c *Controller) Executor(sessionID string) (*Executor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.executors[sessionID]; ok {
		return e, nil
	}
	if c.pages == nil {
		return nil, errors.New("no page source configured")
	}
	p, err := c.pages(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	deps := c.deps
	deps.Page = p
	e := NewExecutor(sessionID, c.cfg, deps)
	c.executors[sessionID] = e
	return e, nil
}

// Lookup returns an existing executor without creating one.
func (c *Controller) Lookup(sessionID string) (*Executor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.executors[sessionID]
	return e, ok
}

// Launch runs the session's executor in the background until it finishes.
// Launching an already running loop is a no-op.
func (c *Controller) Launch(sessionID string) error {
	e, err := c.Executor(sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.active[sessionID] {
		c.mu.Unlock()
		return nil
	}
	c.active[sessionID] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for c.runOnce(sessionID, e) {
		}
	}()
	return nil
}

// runOnce drives e until Run returns and reports whether another run became
// live meanwhile. Launch is a no-op while active is set, so the loop must pick
// that run up itself.
func (c *Controller) runOnce(sessionID string, e *Executor) bool {
	err := e.Run(c.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("autonomous run ended with error", zap.String("session_id", sessionID), zap.Error(err))
	}
	if c.afterRun != nil {
		c.afterRun(sessionID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil && c.ctx.Err() == nil {
		if st := e.State(); st.Running && !st.Paused {
			return true
		}
	}
	delete(c.active, sessionID)
	return false
}

// Remove stops and forgets a session's executor.
func (c *Controller) Remove(sessionID string) {
	c.mu.Lock()
	e, ok := c.executors[sessionID]
	delete(c.executors, sessionID)
	c.mu.Unlock()
	if ok {
		e.Stop()
	}
}

// Close stops every run and waits for background loops to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	for _, e := range c.executors {
		e.Stop()
	}
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
