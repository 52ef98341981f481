package channel

import "sync"

// Provider hands every screen the same Manager. It is constructed once at
// startup and passed to whoever needs the push channel
type Provider struct {
	transport Transport
	cfg       Config

	mu  sync.Mutex
	mgr *Manager
}

func NewProvider(t Transport, cfg Config) *Provider {
	return &Provider{
		transport: t,
		cfg:       cfg,
	}
}

// Manager returns the shared Manager, creating it on first use
func (p *Provider) Manager() *Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mgr == nil {
		p.mgr = New(p.transport, p.cfg)
	}
	return p.mgr
}

// Shutdown closes the shared Manager if one was created
func (p *Provider) Shutdown() {
	p.mu.Lock()
	mgr := p.mgr
	p.mu.Unlock()
	if mgr != nil {
		mgr.Close()
	}
}
