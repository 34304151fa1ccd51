package server

import (
	"context"
	"sync"

	"github.com/mwieland/graphmail/internal/auth"
	"github.com/mwieland/graphmail/internal/instrumentation"
	"github.com/mwieland/graphmail/internal/mail"
)

// ServerContext holds the state shared by all MCP tool handlers: the
// token store, the mail service with its response cache, and the
// metrics recorder.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	mail     *mail.Service
	tokens   *auth.Store
	metrics  *instrumentation.Metrics
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a server context. metrics may be nil when
// instrumentation is disabled.
func NewServerContext(ctx context.Context, svc *mail.Service, tokens *auth.Store, metrics *instrumentation.Metrics) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:     shutdownCtx,
		cancel:  cancel,
		mail:    svc,
		tokens:  tokens,
		metrics: metrics,
	}
}

// Context returns the server lifetime context.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// MailService returns the mail operations facade.
func (sc *ServerContext) MailService() *mail.Service {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.mail
}

// SetMailService replaces the mail service, used by tests.
func (sc *ServerContext) SetMailService(svc *mail.Service) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.mail = svc
}

// TokenStore returns the token store.
func (sc *ServerContext) TokenStore() *auth.Store {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.tokens
}

// Metrics returns the metrics recorder; may be nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// IsShutdown reports whether Shutdown has been called.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context. Safe to call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}
	sc.shutdown = true
	sc.cancel()
	return nil
}
