package cmdutil

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hashjosh/meshauth/internal/config"
)

type contextKey string

const runtimeKey contextKey = "meshauth-runtime"

// Runtime holds what every subcommand needs: the loaded configuration and the
// process logger. It is injected into the cobra command context by the root
// command's PersistentPreRunE hook.
type Runtime struct {
	Config *config.Config
	Logger zerolog.Logger
}

// InjectRuntime adds rt to the command context.
func InjectRuntime(ctx context.Context, rt *Runtime) context.Context {
	return context.WithValue(ctx, runtimeKey, rt)
}

// RuntimeFromContext retrieves the runtime from the command context.
func RuntimeFromContext(ctx context.Context) (*Runtime, bool) {
	rt, ok := ctx.Value(runtimeKey).(*Runtime)
	return rt, ok
}

// MustRuntime retrieves the runtime or panics. Only use it in RunE functions
// of commands attached below the root command.
func MustRuntime(ctx context.Context) *Runtime {
	rt, ok := RuntimeFromContext(ctx)
	if !ok {
		panic("meshauth: runtime not found in command context")
	}
	return rt
}
