package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// completionTriggers counts completion checks by outcome
	// (incomplete, handled, claimed).
	completionTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mce_completion_trigger_total",
		Help: "Completion trigger evaluations by outcome",
	}, []string{"outcome"})

	// notificationsSent counts completion notifications by result.
	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mce_completion_notifications_total",
		Help: "Completion notifications by result",
	}, []string{"result"})

	analysisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mce_ai_analysis_total",
		Help: "AI analysis generation attempts by result",
	}, []string{"result"})

	strainCalculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mce_strain_index_calculations_total",
		Help: "Strain index calculations by result",
	}, []string{"result"})
)
