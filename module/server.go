package module

import (
	"context"
	"net/http"

	"github.com/bknd-io/bknd/schema"
)

// ServerModule holds the HTTP server configuration. It builds first so
// every later module finds a router to register on.
type ServerModule struct {
	*Base
}

// NewServerModule is the factory registered under KeyServer.
func NewServerModule(deps Dependencies) (Module, error) {
	return &ServerModule{Base: NewBase(KeyServer, serverSchema(), deps.Logger)}, nil
}

func serverSchema() schema.Schema {
	return schema.Schema{
		Properties: map[string]schema.Property{
			"host": {Type: "string", Default: "0.0.0.0", Description: "Listen address"},
			"port": {Type: "int", Default: 8080, Minimum: intp(1), Maximum: intp(65535)},
			"cors": {Type: "object", Properties: map[string]schema.Property{
				"enabled": {Type: "bool", Default: true},
				"origin":  {Type: "string", Default: "*"},
			}},
		},
	}
}

// Build registers the base tooling endpoints.
func (s *ServerModule) Build(_ context.Context, rc *Context) (BuildResult, error) {
	rc.Tools.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	cfg := s.Config()
	s.Logger().Debug("server module built",
		"host", cfg["host"],
		"port", cfg["port"])
	return BuildResult{}, nil
}
