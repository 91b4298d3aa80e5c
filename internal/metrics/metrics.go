// Package metrics holds the Prometheus collectors for the gateway.
//
//   - gateway_logins_total{result}            login attempts (ok|rejected|error)
//   - gateway_connects_total{kind,result}     connect and reconnect outcomes
//   - gateway_token_strategy_total{strategy}  which cascade strategy produced the token
//   - gateway_fetch_seconds{provider}         upstream candle request latency
//   - gateway_connection_state{state}         1 for the current state, 0 otherwise
//
// Collectors are registered in init() and served at /metrics by internal/api.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"qxGateway/internal/domain"
)

var (
	logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_logins_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	connects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_connects_total",
			Help: "Upstream connect attempts by kind (connect|retry|reconnect) and result",
		},
		[]string{"kind", "result"},
	)

	tokenStrategy = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_token_strategy_total",
			Help: "Session tokens found per extraction strategy (none when all failed)",
		},
		[]string{"strategy"},
	)

	fetchSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_fetch_seconds",
			Help:    "Latency of upstream candle requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	connState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_connection_state",
			Help: "Connection state indicator (one labeled series per state)",
		},
		[]string{"state"},
	)
)

var allStates = []domain.ConnState{
	domain.StateDisconnected,
	domain.StateConnecting,
	domain.StateAwaitingCode,
	domain.StateConnected,
	domain.StateFailed,
}

func init() {
	prometheus.MustRegister(logins, connects, tokenStrategy)
	prometheus.MustRegister(fetchSeconds, connState)
}

func IncLogin(result string)           { logins.WithLabelValues(result).Inc() }
func IncConnect(kind, result string)   { connects.WithLabelValues(kind, result).Inc() }
func IncTokenStrategy(strategy string) { tokenStrategy.WithLabelValues(strategy).Inc() }

// ObserveFetch records the latency of one upstream candle request.
func ObserveFetch(provider string, started time.Time) {
	fetchSeconds.WithLabelValues(provider).Observe(time.Since(started).Seconds())
}

// SetState flips the state gauge so exactly one series reads 1.
func SetState(current domain.ConnState) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		connState.WithLabelValues(string(s)).Set(v)
	}
}
