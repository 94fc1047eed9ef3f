// Package metrics exposes Prometheus instrumentation for the bot.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/nalunchbot/core/logger"
)

var (
	once sync.Once

	vendorCallLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nalunch_vendor_call_latency_ms",
			Help:    "Vendor API call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"op", "success"},
	)

	paymentsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nalunch_payments_settled_total",
			Help: "Count of settled payments per kind (qr, vending).",
		},
		[]string{"kind"},
	)

	paymentsAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nalunch_payments_amount_total",
			Help: "Sum of settled payment amounts in currency units per kind.",
		},
		[]string{"kind"},
	)

	catalogLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nalunch_catalog_lookups_total",
			Help: "Catalog cache lookups per result (hit, miss, refresh).",
		},
		[]string{"result"},
	)

	batchesCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nalunch_media_batches_total",
			Help: "Count of completed media batches.",
		},
	)

	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nalunch_media_batch_size",
			Help:    "Number of photos per completed media batch.",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10, 15, 20},
		},
	)
)

// Register installs all collectors into the default registry. Safe to call
// more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			vendorCallLatencyMs,
			paymentsSettled,
			paymentsAmount,
			catalogLookups,
			batchesCompleted,
			batchSize,
		)
	})
}

// VendorCall records one vendor API call observation.
func VendorCall(op string, success bool, elapsed time.Duration) {
	label := "false"
	if success {
		label = "true"
	}
	vendorCallLatencyMs.WithLabelValues(op, label).Observe(float64(elapsed.Milliseconds()))
}

// PaymentSettled records one settled payment of the given kind and amount.
func PaymentSettled(kind string, amount int) {
	paymentsSettled.WithLabelValues(kind).Inc()
	paymentsAmount.WithLabelValues(kind).Add(float64(amount))
}

// CatalogLookup records one catalog cache lookup result.
func CatalogLookup(result string) {
	catalogLookups.WithLabelValues(result).Inc()
}

// BatchCompleted records one fired media batch and its size.
func BatchCompleted(size int) {
	batchesCompleted.Inc()
	batchSize.Observe(float64(size))
}

// Serve exposes /metrics on addr until ctx is cancelled. It returns
// immediately when addr is empty.
func Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info(ctx, "metrics", "metrics.listen", slog.String("listen", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "metrics", "metrics.listen", slog.String("err", err.Error()))
		}
	}()
}
