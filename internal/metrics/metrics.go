// Package metrics provides Prometheus metrics for the secrets daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agent_secrets"

var (
	// SecretOperations counts store operations by action, scope and result
	// ("ok", "denied", "not_found", "error").
	SecretOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secret_operations_total",
			Help:      "Total number of secret store operations",
		},
		[]string{"action", "scope", "result"},
	)

	// CryptoOperations counts encryption operations.
	CryptoOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crypto_operations_total",
			Help:      "Total number of encryption/decryption operations",
		},
		[]string{"operation"}, // "encrypt", "decrypt" or "decrypt_failed"
	)

	// FormSessionsActive tracks registered form sessions.
	FormSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "form_sessions_active",
			Help:      "Number of registered form sessions",
		},
	)

	// FormSubmissions counts form submissions by result
	// ("accepted", "invalid", "rejected", "error").
	FormSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "form_submissions_total",
			Help:      "Total number of form submissions",
		},
		[]string{"result"},
	)

	// TunnelsActive tracks open tunnels.
	TunnelsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tunnels_active",
			Help:      "Number of open tunnels",
		},
	)
)
