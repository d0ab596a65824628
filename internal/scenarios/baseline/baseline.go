// Package baseline forwards every query straight to the tracing API
// without caching. It is the control arm for cache experiments.
package baseline

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/spanlab/span-sample-gateway/internal/core/bucket"
	"github.com/spanlab/span-sample-gateway/internal/core/config"
	"github.com/spanlab/span-sample-gateway/internal/core/executor"
	"github.com/spanlab/span-sample-gateway/internal/core/model"
	"github.com/spanlab/span-sample-gateway/internal/core/router"
	"github.com/spanlab/span-sample-gateway/internal/scenarios"
)

type Engine struct {
	logger *slog.Logger
	exec   executor.Interface
}

func init() {
	scenarios.Register("baseline", newBaseline)
}

func newBaseline(_ config.Config, logger *slog.Logger, exec executor.Interface) (router.QueryHandler, error) {
	return &Engine{
		logger: logger,
		exec:   exec,
	}, nil
}

func (e *Engine) HandleQuery(_ context.Context, w http.ResponseWriter, r *http.Request, q model.SampleQuery) {
	if bounds, err := bucket.Bucket(q.Range.Min, q.Range.Max); err == nil {
		e.logger.Debug("bucketed range",
			"org", q.Org,
			"lower", bounds.LowerBound,
			"first", bounds.FirstBound,
			"second", bounds.SecondBound,
			"upper", bounds.UpperBound)
	}

	e.exec.ForwardSamples(w, r, q)
}
