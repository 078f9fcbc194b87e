package plugins

import (
	"fmt"
	"sync"
)

// BaseService carries the bookkeeping most services share: the name they
// were mapped under, a method table and ordering constraints. Embed it and
// add Init, Run or Dispose as needed.
type BaseService struct {
	name string

	mu      sync.RWMutex
	methods Methods
	order   Order
}

// NewBaseService returns a BaseService mapped as name.
func NewBaseService(name string) *BaseService {
	return &BaseService{name: name, methods: make(Methods)}
}

// Name returns the mapped plugin name.
func (b *BaseService) Name() string { return b.name }

// Methods returns a copy of the method table.
func (b *BaseService) Methods() Methods {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(Methods, len(b.methods))
	for k, v := range b.methods {
		out[k] = v
	}
	return out
}

// Handle exposes fn as method. Registering a method twice is an error.
func (b *BaseService) Handle(method string, fn Method) error {
	if fn == nil {
		return fmt.Errorf("%w: nil method %s", ErrInvalidPluginConfig, method)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.methods[method]; ok {
		return fmt.Errorf("method %s of %s already registered", method, b.name)
	}
	b.methods[method] = fn
	return nil
}

// SetOrder replaces the ordering constraints.
func (b *BaseService) SetOrder(o Order) {
	b.mu.Lock()
	b.order = o
	b.mu.Unlock()
}

// OrderConstraints implements Orderer.
func (b *BaseService) OrderConstraints() Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.order
}

var (
	_ Service = (*BaseService)(nil)
	_ Orderer = (*BaseService)(nil)
)
