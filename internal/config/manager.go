package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "sigbatch/pkg/logx"
)

const (
	defaultDebounce   = 250 * time.Millisecond
	validateTimeout   = 5 * time.Second
	watchRestartFirst = 250 * time.Millisecond
	watchRestartMax   = 5 * time.Second
)

// Validator vets a freshly decoded config before it replaces the live one,
// e.g. by dry-building the components it configures.
type Validator func(ctx context.Context, cfg *Config) error

type ManagerOption func(*Manager)

func WithLogger(log logx.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

func WithValidator(fn Validator) ManagerOption {
	return func(m *Manager) { m.validate = fn }
}

// WithDebounce sets how long Watch waits after the last file event before
// reloading.
func WithDebounce(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// Manager holds the live config for one file. Reload and Watch replace it
// only with a config that decodes, validates and differs from the current
// one; subscribers then receive the new value.
type Manager struct {
	path     string
	log      logx.Logger
	validate Validator
	debounce time.Duration

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	// reloadMu serializes Reload (SIGHUP and the file watcher may race).
	reloadMu sync.Mutex

	subMu sync.Mutex
	subs  map[chan *Config]struct{}
}

// NewManager starts from cfg, usually the result of Load(path).
func NewManager(path string, cfg *Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		path:     path,
		debounce: defaultDebounce,
		cfg:      cfg,
		hash:     hashConfig(cfg),
		subs:     map[chan *Config]struct{}{},
	}
	for _, o := range opts {
		o(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	return m
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel that always holds the newest unread config.
// A slow reader skips intermediate versions. cancel closes the channel.
func (m *Manager) Subscribe() (updates <-chan *Config, cancel func()) {
	ch := make(chan *Config, 1)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, ch)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}

// Reload re-reads the file now. It reports false without error when the
// decoded config equals the live one.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	cfg, err := Load(m.path)
	if err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}
	h := hashConfig(cfg)

	m.mu.RLock()
	same := h != 0 && h == m.hash
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return false, nil
	}

	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			return false, fmt.Errorf("rejected: %w", err)
		}
	}

	m.mu.Lock()
	m.cfg, m.hash = cfg, h
	m.mu.Unlock()
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
	return true, nil
}

// Watch reloads the file whenever it changes, until ctx is done. The
// containing directory is watched so editors that replace the file by
// rename are seen. A watcher that breaks is recreated with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	wait := watchRestartFirst
	for {
		healthy, err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if healthy {
			wait = watchRestartFirst
		}
		delay := wait + rand.N(wait/2+1)
		m.log.Warn("config watcher stopped; restarting", logx.String("path", m.path), logx.Duration("backoff", delay), logx.Err(err))
		wait = min(wait*2, watchRestartMax)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// watchOnce runs one fsnotify watcher until it fails or ctx is done.
// healthy reports whether the watcher got as far as receiving events.
func (m *Manager) watchOnce(ctx context.Context) (healthy bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return false, fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	timer := time.NewTimer(m.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil

		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op != 0 {
				timer.Reset(m.debounce)
			}

		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return true, errors.New("error channel closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// Events may be lost; reload to catch up.
				m.log.Warn("config watch overflow; reloading", logx.String("dir", dir))
				timer.Reset(m.debounce)
			case errors.Is(err, fsnotify.ErrClosed):
				return true, err
			case err != nil:
				m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
			}

		case <-timer.C:
			if _, err := m.Reload(ctx); err != nil {
				m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
			}
		}
	}
}
