package module

import (
	"database/sql"
	"net/http"
	"sync"

	"github.com/bknd-io/bknd/entity"
	"github.com/bknd-io/bknd/eventbus"
)

// Context is the shared runtime state of one build pass. It is rebuilt
// from scratch at the top of every pass so no module observes stale
// cross-module state.
type Context struct {
	// DB is the shared database connection; it survives rebuilds.
	DB *sql.DB

	// Router is a fresh request router modules register handlers on.
	Router *http.ServeMux

	// Tools is a separate mux for internal tooling endpoints.
	Tools *http.ServeMux

	// Entities is the entity manager the data module installed, nil
	// until the data module has built.
	Entities entity.Manager

	// Guard collects the permissions modules declare.
	Guard *Guard

	// Bus carries lifecycle events.
	Bus eventbus.Bus
}

// newContext builds a fresh context. DB and Bus are the only parts carried
// over between passes.
func newContext(db *sql.DB, bus eventbus.Bus) *Context {
	if bus == nil {
		bus = eventbus.NewNopBus()
	}
	return &Context{
		DB:     db,
		Router: http.NewServeMux(),
		Tools:  http.NewServeMux(),
		Guard:  NewGuard(),
		Bus:    bus,
	}
}

// ForkOption adjusts a forked context.
type ForkOption func(*Context)

// WithForkBus replaces the bus of a forked context. Forking with the nop
// bus suppresses events, which the seed callback relies on.
func WithForkBus(bus eventbus.Bus) ForkOption {
	return func(c *Context) { c.Bus = bus }
}

// Fork derives a context sharing the same runtime parts. Options may
// swap individual parts without touching the parent.
func (c *Context) Fork(opts ...ForkOption) *Context {
	forked := &Context{
		DB:       c.DB,
		Router:   c.Router,
		Tools:    c.Tools,
		Entities: c.Entities,
		Guard:    c.Guard,
		Bus:      c.Bus,
	}
	for _, opt := range opts {
		opt(forked)
	}
	return forked
}

// Guard collects permission declarations made by modules during build and
// answers permission checks afterwards.
type Guard struct {
	mu    sync.RWMutex
	perms map[string]bool
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{perms: make(map[string]bool)}
}

// Register declares permissions under a module's namespace.
func (g *Guard) Register(key Key, perms ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range perms {
		g.perms[string(key)+"."+p] = true
	}
}

// Known reports whether a fully qualified permission was declared.
func (g *Guard) Known(perm string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.perms[perm]
}

// Permissions lists every declared permission.
func (g *Guard) Permissions() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.perms))
	for p := range g.perms {
		out = append(out, p)
	}
	return out
}
