// Package catsapp bundles the per-process pieces a CATS server shares
// across every connection: the handler router, event bus, and channel
// registry, grounded on cats/app.py's Application.
package catsapp

import (
	"fmt"

	"github.com/cifrazia/cats/internal/catschannel"
	"github.com/cifrazia/cats/internal/catsevents"
	"github.com/cifrazia/cats/internal/catsrouter"
)

// Identity names the authenticated peer a connection speaks for, grounded
// on cats/identity.py's Identity interface. ModelName feeds the implicit
// "model_<name>" and "model_<name>:<id>" channels (§3.1).
type Identity interface {
	ID() string
	ModelName() string
}

// Application is the shared, immutable-after-construction context every
// Connection references: its handler router, event bus, and channel
// registry.
type Application struct {
	Router   *catsrouter.Router
	Events   *catsevents.Bus
	Channels *catschannel.Registry[ConnKey]

	InputTimeoutSeconds   int
	InputLimit            int
	MaxPlainDataSizeBytes int64
}

// ConnKey identifies a connection within the channel registry without
// catsapp importing catsconn, avoiding an import cycle (catsconn depends
// on catsapp for dispatch, not the reverse).
type ConnKey uintptr

// New builds an Application around an already-populated router. Passing a
// nil router is a programming error since a server cannot dispatch
// anything without one.
func New(router *catsrouter.Router) (*Application, error) {
	if router == nil {
		return nil, fmt.Errorf("catsapp: router must not be nil")
	}
	return &Application{
		Router:                router,
		Events:                catsevents.NewBus(),
		Channels:              catschannel.NewRegistry[ConnKey](),
		InputTimeoutSeconds:   120,
		InputLimit:            10,
		MaxPlainDataSizeBytes: 16 << 20,
	}, nil
}

// SignInChannels returns the implicit channels a connection joins once an
// Identity authenticates on it: "model_<name>" and "model_<name>:<id>",
// plus catschannel.All (§3.1).
func SignInChannels(id Identity) []string {
	return []string{
		catschannel.All,
		"model_" + id.ModelName(),
		"model_" + id.ModelName() + ":" + id.ID(),
	}
}
