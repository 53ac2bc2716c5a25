// Package builtin assembles the registry of types shipped with scatter.
package builtin

import (
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/plugins/endpoint"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/plugins/fn"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/plugins/kv"
	"github.com/go-logr/logr"
)

// Registry returns a fresh registry with kv, fn and endpoint. Each call gets
// its own plugin instances and therefore its own live resources.
func Registry(log logr.Logger) *deployment.Registry {
	reg := deployment.NewRegistry()
	reg.MustRegister(kv.TypeName, kv.New())
	reg.MustRegister(fn.TypeName, fn.New(fn.DefaultCatalog()))
	reg.MustRegister(endpoint.TypeName, endpoint.New(log.WithName("endpoint")))
	return reg
}
