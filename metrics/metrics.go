package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()

	// TilesRendered counts tiles encoded per layer
	TilesRendered = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tiles_rendered_total", Help: "Vector tiles rendered per layer."},
		[]string{"layer"},
	)
	// TileCacheHits / TileCacheMisses track the rendered-tile cache
	TileCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tile_cache_hits_total", Help: "Tile cache hits."},
	)
	TileCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tile_cache_misses_total", Help: "Tile cache misses."},
	)
	// CorrectionsSaved counts committed correction records by operation and review status
	CorrectionsSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "corrections_saved_total", Help: "Correction records committed."},
		[]string{"operation", "status"},
	)
	// CorrectionConflicts counts save batches rejected by the conflict check
	CorrectionConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "correction_conflicts_total", Help: "Correction batches aborted on conflict."},
	)
	// CorrectionsReviewed counts audit transitions by outcome
	CorrectionsReviewed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "corrections_reviewed_total", Help: "Audit transitions by outcome."},
		[]string{"outcome"},
	)
	// PatchVersions counts patch label versions created
	PatchVersions = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "patch_versions_total", Help: "Reference patch label versions created."},
	)
)

// RegisterDefault registers collectors to the registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(TilesRendered)
		Registry.MustRegister(TileCacheHits)
		Registry.MustRegister(TileCacheMisses)
		Registry.MustRegister(CorrectionsSaved)
		Registry.MustRegister(CorrectionConflicts)
		Registry.MustRegister(CorrectionsReviewed)
		Registry.MustRegister(PatchVersions)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler exposes the registry for the /metrics route.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
