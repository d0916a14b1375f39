package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/samaelod/wirebench/stats"
	"github.com/samaelod/wirebench/types"
)

var (
	ErrAlreadyRunning     = errors.New("engine: already running")
	ErrNotConnected       = errors.New("engine: not connected")
	ErrReconnectExhausted = errors.New("engine: reconnect attempts exhausted")
	ErrUnknownComponent   = errors.New("engine: unknown component")
	ErrDuplicateComponent = errors.New("engine: duplicate component name")
)

// Component is the boundary every engine exposes to the outer surfaces.
type Component interface {
	Name() string
	Kind() string
	Start() error
	Stop()
	Running() bool
	Stats() stats.Snapshot
}

// Registry owns the engines built from a profile and replays their scripts.
type Registry struct {
	mu         sync.Mutex
	components map[string]Component
	order      []string
	status     map[string]types.EndpointStatus
	scripts    map[string][]types.Message
	cancels    map[string]context.CancelFunc
	wg         sync.WaitGroup

	log   *zap.Logger
	delay time.Duration // default delay between scripted messages
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		components: make(map[string]Component),
		status:     make(map[string]types.EndpointStatus),
		scripts:    make(map[string][]types.Message),
		cancels:    make(map[string]context.CancelFunc),
		log:        orNop(log),
	}
}

// Build creates one engine per profile endpoint, in profile order, and
// attaches each client its scripted messages.
func Build(p *types.Profile, log *zap.Logger) (*Registry, error) {
	if p.MessagesByFrom == nil {
		p.IndexMessages()
	}
	r := NewRegistry(log)
	r.delay = time.Duration(p.Globals.Delay) * time.Millisecond

	for _, ep := range p.Endpoints {
		c, err := newComponent(ep, p.Globals, r.log)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d (%s): %w", ep.ID, ep.DisplayName(), err)
		}
		if err := r.Add(c); err != nil {
			return nil, err
		}
		if msgs := p.MessagesByFrom[ep.ID]; len(msgs) > 0 {
			r.SetScript(c.Name(), msgs)
		}
	}
	return r, nil
}

func newComponent(ep types.Endpoint, g types.Globals, log *zap.Logger) (Component, error) {
	name := ep.DisplayName()
	switch ep.Kind {
	case types.KindTCPServer:
		cfg, err := ep.TCPServerConfig(g)
		if err != nil {
			return nil, err
		}
		return NewTCPServer(name, cfg, log), nil
	case types.KindUDPServer:
		cfg, err := ep.UDPServerConfig(g)
		if err != nil {
			return nil, err
		}
		return NewUDPServer(name, cfg, log), nil
	case types.KindTCPClient:
		cfg, err := ep.TCPClientConfig(g)
		if err != nil {
			return nil, err
		}
		return NewTCPClient(name, cfg, log), nil
	case types.KindPeer:
		cfg, err := ep.PeerConfig(g)
		if err != nil {
			return nil, err
		}
		return NewPeer(name, cfg, log), nil
	case types.KindUDPClient:
		cfg, err := ep.UDPClientConfig(g)
		if err != nil {
			return nil, err
		}
		return NewUDPClient(name, cfg, log), nil
	case types.KindLoadTest:
		cfg, err := ep.LoadTestConfig(g)
		if err != nil {
			return nil, err
		}
		return NewLoadTester(name, cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown endpoint kind %q", ep.Kind)
	}
}

func (r *Registry) Add(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.components[c.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, c.Name())
	}
	r.components[c.Name()] = c
	r.order = append(r.order, c.Name())
	r.status[c.Name()] = types.StatusIdle
	return nil
}

func (r *Registry) Get(name string) (Component, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.components[name]
	return c, ok
}

// Names returns component names in the order they were added.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// SetScript attaches messages replayed by Run.
func (r *Registry) SetScript(name string, msgs []types.Message) {
	r.mu.Lock()
	r.scripts[name] = msgs
	r.mu.Unlock()
}

func (r *Registry) Script(name string) []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scripts[name]
}

// Status returns the last known state of name. Running components that
// finished on their own are reported completed.
func (r *Registry) Status(name string) types.EndpointStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status[name]
}

func (r *Registry) setStatus(name string, s types.EndpointStatus) {
	r.mu.Lock()
	r.status[name] = s
	r.mu.Unlock()
}

// Start starts one component without replaying its script.
func (r *Registry) Start(name string) error {
	c, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, name)
	}
	if err := c.Start(); err != nil {
		if !errors.Is(err, ErrAlreadyRunning) {
			r.setStatus(name, types.StatusError)
		}
		r.log.Warn("start failed", zap.String("engine", name), zap.Error(err))
		return err
	}
	r.setStatus(name, types.StatusRunning)
	if lt, ok := c.(*LoadTester); ok {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			lt.Wait()
			r.finish(name)
		}()
	}
	return nil
}

// Run starts name and, when it is a sender with a script, replays the
// script in the background. Stop cancels the replay.
func (r *Registry) Run(name string) error {
	if err := r.Start(name); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		c, _ := r.Get(name)
		// a client whose first dial failed may still reconnect
		if c == nil || !c.Running() {
			return err
		}
	}

	c, _ := r.Get(name)
	s, ok := c.(Sender)
	msgs := r.Script(name)
	if !ok || len(msgs) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	if prev := r.cancels[name]; prev != nil {
		prev()
	}
	r.cancels[name] = cancel
	r.mu.Unlock()

	r.log.Info("replaying script", zap.String("engine", name), zap.Int("messages", len(msgs)))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		failed, err := Replay(ctx, s, msgs, r.delay, r.log.With(zap.String("engine", name)))
		switch {
		case errors.Is(err, context.Canceled):
			r.log.Info("script stopped", zap.String("engine", name))
			return
		case failed > 0:
			r.setStatus(name, types.StatusError)
			r.log.Warn("script finished with errors", zap.String("engine", name), zap.Int("failed", failed))
		default:
			r.log.Info("script finished", zap.String("engine", name))
		}
	}()
	return nil
}

func (r *Registry) finish(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status[name] == types.StatusRunning {
		r.status[name] = types.StatusCompleted
	}
}

// Stop cancels any replay for name and stops the component.
func (r *Registry) Stop(name string) {
	c, ok := r.Get(name)
	if !ok {
		return
	}
	r.mu.Lock()
	if cancel := r.cancels[name]; cancel != nil {
		cancel()
		delete(r.cancels, name)
	}
	r.mu.Unlock()

	c.Stop()

	r.mu.Lock()
	if r.status[name] == types.StatusRunning {
		r.status[name] = types.StatusIdle
	}
	r.mu.Unlock()
	r.log.Info("engine stopped", zap.String("engine", name))
}

// StopAll stops every component in reverse order, so clients go before the
// servers they talk to, and waits for background replays.
func (r *Registry) StopAll() {
	names := r.Names()
	for i := len(names) - 1; i >= 0; i-- {
		r.Stop(names[i])
	}
	r.wg.Wait()
	r.log.Info("all engines stopped")
}

// Stats snapshots every component.
func (r *Registry) Stats() map[string]stats.Snapshot {
	r.mu.Lock()
	comps := make([]Component, 0, len(r.components))
	for _, c := range r.components {
		comps = append(comps, c)
	}
	r.mu.Unlock()

	out := make(map[string]stats.Snapshot, len(comps))
	for _, c := range comps {
		out[c.Name()] = c.Stats()
	}
	return out
}
