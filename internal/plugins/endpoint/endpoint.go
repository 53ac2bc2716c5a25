// File: internal/plugins/endpoint/endpoint.go
// Brief: HTTP listeners exposing an fn deployable over GET /{key}.

package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
)

const TypeName = "endpoint"

const defaultAddr = "127.0.0.1:0"

// Caller is the live handle an endpoint forwards requests to.
type Caller interface {
	Call(ctx context.Context, args ...string) (any, error)
}

type Options struct {
	Func deployment.Ref `json:"func"`
	Addr string         `json:"addr,omitempty"`
}

type Plugin struct {
	log logr.Logger

	mu      sync.Mutex
	servers map[string]*http.Server
}

func New(log logr.Logger) *Plugin {
	return &Plugin{log: log, servers: make(map[string]*http.Server)}
}

// Deploy resolves the function's live handle, then starts serving it. The
// current state carries the base URL of the listener.
func (p *Plugin) Deploy(ctx context.Context, dc deployment.DeployContext, name string, options any) (any, error) {
	opts, err := deployment.DecodeOptions[Options](options)
	if err != nil {
		return nil, err
	}
	if opts.Func.Name == "" {
		return nil, fmt.Errorf("options.func is required")
	}
	h, err := dc.Interface(ctx, opts.Func)
	if err != nil {
		return nil, err
	}
	caller, ok := h.(Caller)
	if !ok {
		return nil, fmt.Errorf("%s does not expose a callable interface (got %T)", opts.Func.Name, h)
	}
	addr := opts.Addr
	if addr == "" {
		addr = defaultAddr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.servers[name]; exists {
		return nil, fmt.Errorf("endpoint %q is already serving", name)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           p.router(name, caller),
		ReadHeaderTimeout: 5 * time.Second,
	}
	p.servers[name] = srv
	log := p.log.WithValues("endpoint", name, "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "endpoint stopped")
		}
	}()
	log.V(1).Info("endpoint serving")
	return map[string]any{"address": "http://" + ln.Addr().String()}, nil
}

func (p *Plugin) router(name string, caller Caller) http.Handler {
	r := chi.NewRouter()
	r.Get("/{key}", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")
		out, err := caller.Call(req.Context(), key)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err != nil {
			p.log.Error(err, "call failed", "endpoint", name, "key", key)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprintf(w, "ERROR %v", err)
			return
		}
		_, _ = fmt.Fprint(w, out)
	})
	return r
}

// Undeploy shuts the listener down. Unknown names are a no-op.
func (p *Plugin) Undeploy(ctx context.Context, _ deployment.Context, name string, _ any) error {
	p.mu.Lock()
	srv, ok := p.servers[name]
	delete(p.servers, name)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown endpoint: %w", err)
	}
	return nil
}
