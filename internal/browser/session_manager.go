package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"groundwork-mcp-server/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when no browser is attached.
var ErrNotConnected = errors.New("browser not connected")

// Session describes the public metadata for a tracked browser context.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta     Session
	page     *rod.Page
	registry *ElementRegistry
	cancel   context.CancelFunc
}

// NavigateFunc is told about main-frame navigations.
type NavigateFunc func(sessionID, url string)

// SessionManager owns the detached Chrome instance and tracks active sessions.
type SessionManager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string
	onNavigate NavigateFunc
}

func NewSessionManager(cfg config.BrowserConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*sessionRecord),
	}
}

// OnNavigate registers fn for main-frame navigations of every session.
func (m *SessionManager) OnNavigate(fn NavigateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNavigate = fn
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.RLock()
	existing := m.browser
	m.mu.RUnlock()
	if existing != nil {
		if _, err := existing.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		_ = existing.Close()
		m.mu.Lock()
		m.browser = nil
		m.controlURL = ""
		m.sessions = make(map[string]*sessionRecord)
		m.mu.Unlock()
	}

	if err := m.loadSessions(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.mu.Lock()
	m.browser = browser
	m.controlURL = controlURL
	m.mu.Unlock()
	m.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

// launch starts Chrome from cfg.Launch, or lets Rod find a binary when the
// list is empty.
func (m *SessionManager) launch() (string, error) {
	l := launcher.New().Headless(m.cfg.IsHeadless())
	if len(m.cfg.Launch) > 0 {
		l = l.Bin(m.cfg.Launch[0])
		for _, rawFlag := range m.cfg.Launch[1:] {
			name, val, hasVal := strings.Cut(strings.TrimLeft(rawFlag, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}
	if len(m.cfg.Launch) == 0 {
		return "", fmt.Errorf("launch chrome: %w", err)
	}
	// Retry with Rod's defaults; custom flags are the usual culprit.
	alt, altErr := launcher.New().Bin(m.cfg.Launch[0]).Headless(m.cfg.IsHeadless()).Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes tracked pages and the underlying browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, record := range m.sessions {
		if record.cancel != nil {
			record.cancel()
		}
		if record.page != nil {
			_ = record.page.Close()
		}
		delete(m.sessions, id)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	m.logger.Info("browser shutdown complete")
	return err
}

// List returns lightweight metadata for all known sessions.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Session, 0, len(m.sessions))
	for _, record := range m.sessions {
		results = append(results, record.meta)
	}
	return results
}

// CreateSession opens a new page in an incognito context and tracks it.
func (m *SessionManager) CreateSession(ctx context.Context, url string) (*Session, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.logger.Warn("failed to set viewport", zap.Error(err))
	}

	// Best-effort load; a slow page is still usable.
	if url != "" {
		if err := page.Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
			m.logger.Warn("initial navigation incomplete", zap.String("url", url), zap.Error(err))
		}
	}

	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     "active",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}
	m.track(ctx, meta, page)
	return &meta, nil
}

// Attach binds to an existing target by TargetID.
func (m *SessionManager) Attach(ctx context.Context, targetID string) (*Session, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	attachCtx, cancel := context.WithTimeout(ctx, m.cfg.AttachTimeout())
	defer cancel()
	attached, err := browser.Context(attachCtx).PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}
	page := attached.Context(browser.GetContext())

	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		Status:     "attached",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}
	if info, err := page.Info(); err == nil {
		meta.URL = info.URL
		meta.Title = info.Title
	}
	m.track(ctx, meta, page)
	return &meta, nil
}

func (m *SessionManager) track(ctx context.Context, meta Session, page *rod.Page) {
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: page, registry: NewElementRegistry(), cancel: cancel}
	m.mu.Unlock()

	m.watchNavigation(watchCtx, meta.ID, page)
	if err := m.persistSessions(); err != nil {
		m.logger.Warn("persist sessions failed", zap.Error(err))
	}
}

// watchNavigation clears the element registry and refreshes metadata on
// every main-frame navigation.
func (m *SessionManager) watchNavigation(ctx context.Context, sessionID string, page *rod.Page) {
	wait := page.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		if registry := m.Registry(sessionID); registry != nil {
			if n := registry.Count(); n > 0 {
				m.logger.Debug("navigation cleared element ids", zap.String("session", sessionID), zap.Int("count", n), zap.String("url", ev.Frame.URL))
			}
			registry.Clear()
		}
		m.UpdateMetadata(sessionID, func(s Session) Session {
			s.URL = ev.Frame.URL
			s.LastActive = time.Now()
			return s
		})

		m.mu.RLock()
		fn := m.onNavigate
		m.mu.RUnlock()
		if fn != nil {
			fn(sessionID, ev.Frame.URL)
		}
	})
	go wait()
}

// Page returns the underlying Rod page for a session when present.
func (m *SessionManager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.page == nil {
		return nil, false
	}
	return rec.page, true
}

// Registry returns the element registry for a session, or nil.
func (m *SessionManager) Registry(sessionID string) *ElementRegistry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return rec.registry
}

// UpdateMetadata refreshes metadata (e.g., URL/title after navigation).
func (m *SessionManager) UpdateMetadata(sessionID string, updater func(Session) Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	rec.meta = updater(rec.meta)
}

// GetSession returns the current session metadata when available.
func (m *SessionManager) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// LivePage returns the automation view of a session's page.
func (m *SessionManager) LivePage(sessionID string) (*LivePage, error) {
	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	if rec.page == nil {
		return nil, fmt.Errorf("session %s is detached; attach it to a live target first", sessionID)
	}
	return newLivePage(rec.page, rec.registry, m.cfg.NavigationTimeout(), m.logger.With(zap.String("session", sessionID))), nil
}

// persistSessions writes session metadata to disk for continuity across restarts.
func (m *SessionManager) persistSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	m.mu.RLock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		sessions = append(sessions, rec.meta)
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.SessionStore, data, 0o644)
}

// loadSessions loads persisted metadata (does not auto-attach to pages).
func (m *SessionManager) loadSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	data, err := os.ReadFile(m.cfg.SessionStore)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		if _, live := m.sessions[s.ID]; live {
			continue
		}
		// Detached until attach-session binds it to a live target.
		s.Status = "detached"
		m.sessions[s.ID] = &sessionRecord{meta: s, registry: NewElementRegistry()}
	}
	return nil
}
