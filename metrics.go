package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics counts what the server does. It satisfies the dispatcher's and the
// store's metrics interfaces. Each instance carries its own registry so tests
// can build servers freely.
type Metrics struct {
	registry *prometheus.Registry

	connectionsAccepted    prometheus.Counter
	messagesPublished      prometheus.Counter
	usersNotified          prometheus.Counter
	notificationsPersisted prometheus.Counter
	dbCalls                *prometheus.CounterVec
	usersOnline            prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_connections_accepted_total",
			Help: "Connections accepted since start.",
		}),
		messagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_messages_published_total",
			Help: "Messages delivered through channel publishes.",
		}),
		usersNotified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_users_notified_total",
			Help: "Notifications delivered to online users.",
		}),
		notificationsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_notifications_persisted_total",
			Help: "Notifications stored for offline users.",
		}),
		dbCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_db_calls_total",
			Help: "Store operations by name.",
		}, []string{"op"}),
		usersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_users_online",
			Help: "Users currently logged in on this server.",
		}),
	}

	m.registry.MustRegister(
		m.connectionsAccepted,
		m.messagesPublished,
		m.usersNotified,
		m.notificationsPersisted,
		m.dbCalls,
		m.usersOnline,
	)

	return m
}

func (m *Metrics) ConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *Metrics) NotificationPersisted() {
	m.notificationsPersisted.Inc()
}

// MessagePublished implements dispatch.Metrics.
func (m *Metrics) MessagePublished(n int) {
	m.messagesPublished.Add(float64(n))
}

// UserNotified implements dispatch.Metrics.
func (m *Metrics) UserNotified() {
	m.usersNotified.Inc()
}

// OnlineUsers implements dispatch.Metrics.
func (m *Metrics) OnlineUsers(n int) {
	m.usersOnline.Set(float64(n))
}

// DBCall implements db.Metrics.
func (m *Metrics) DBCall(op string) {
	m.dbCalls.WithLabelValues(op).Inc()
}

// Serve exposes the registry over HTTP until the server shuts down.
func (m *Metrics) Serve(addr string, shutdown <-chan struct{}, log zerolog.Logger) {
	srv := &http.Server{
		Addr: addr,
		Handler: promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}),

		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-shutdown
		_ = srv.Close()
	}()

	log.Info().Str("addr", addr).Msg("metrics listener starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn().Err(err).Msg("metrics listener failed")
	}
}
