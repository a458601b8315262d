// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/chatflow/pkg/nodes/conditional"
	"github.com/dukex/chatflow/pkg/nodes/httprequest"
	"github.com/dukex/chatflow/pkg/nodes/jump"
	lognode "github.com/dukex/chatflow/pkg/nodes/log"
	"github.com/dukex/chatflow/pkg/nodes/lookup"
	"github.com/dukex/chatflow/pkg/nodes/message"
	switchnode "github.com/dukex/chatflow/pkg/nodes/switch"
	"github.com/dukex/chatflow/pkg/nodes/trigger"
	"github.com/dukex/chatflow/pkg/nodes/variable"
	"github.com/dukex/chatflow/pkg/registry"
)

func registerHandlerPlugins(reg *registry.Registry, pluginsPath string) {
	if _, err := reg.LoadHandlerPlugins(pluginsPath); err != nil {
		panic(err)
	}
}

func registerNativeHandlers(reg *registry.Registry) {
	reg.Register(trigger.New())
	reg.Register(conditional.New())
	reg.Register(switchnode.New())
	reg.Register(jump.New())
	reg.Register(httprequest.New())
	reg.Register(lognode.New())
	reg.Register(lookup.New())
	reg.Register(variable.New())
	reg.Register(message.New())
}

// NewRegistry registers the built-in handlers followed by any handler plugins found
// under pluginsPath, so a plugin can replace a built-in type.
func NewRegistry(log *slog.Logger, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeHandlers(reg)

	if pluginsPath != "" {
		registerHandlerPlugins(reg, pluginsPath)
	}

	return reg
}
