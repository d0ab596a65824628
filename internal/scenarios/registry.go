// Package scenarios names the gateway's sample-serving strategies:
// "baseline" proxies every /samples query upstream, "cache" answers
// from Redis segment pages. Each strategy registers itself in init().
package scenarios

import (
	"fmt"
	"log/slog"

	"github.com/spanlab/span-sample-gateway/internal/core/config"
	"github.com/spanlab/span-sample-gateway/internal/core/executor"
	"github.com/spanlab/span-sample-gateway/internal/core/router"
)

// Factory builds the /samples handler for one serving strategy.
type Factory func(cfg config.Config, logger *slog.Logger, exec executor.Interface) (router.QueryHandler, error)

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[name] = f
}

func New(name string, cfg config.Config, logger *slog.Logger, exec executor.Interface) (router.QueryHandler, error) {
	if f, ok := reg[name]; ok {
		return f(cfg, logger, exec)
	}
	if f, ok := reg["baseline"]; ok {
		logger.Warn("unknown scenario; falling back to baseline", "scenario", name)
		return f(cfg, logger, exec)
	}
	return nil, fmt.Errorf("no factory for scenario %q and no baseline registered", name)
}
