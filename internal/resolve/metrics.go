package resolve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notemind_resolution_attempts_total",
		Help: "Generation attempts by backend and classified outcome.",
	}, []string{"backend", "outcome"})

	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notemind_resolutions_total",
		Help: "Completed resolution passes by mode and final outcome.",
	}, []string{"mode", "outcome"})
)
