package regrid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wxgrid_weight_cache_lookups_total",
		Help: "Weight cache lookups by result (hit, miss, disk).",
	}, []string{"result"})

	weightComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wxgrid_weight_computations_total",
		Help: "Weight sets computed, by method.",
	}, []string{"method"})

	regridDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wxgrid_regrid_duration_seconds",
		Help:    "Time spent regridding one field, by method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)
