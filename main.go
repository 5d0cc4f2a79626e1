package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	stdout "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/stayport/booking-service/client"
	"github.com/stayport/booking-service/db"
	"github.com/stayport/booking-service/handlers"
	"github.com/stayport/booking-service/services"
	"github.com/stayport/booking-service/utils"
)

func intervalFromEnv(key string, fallback time.Duration) time.Duration {
	seconds, err := strconv.Atoi(os.Getenv(key))
	if err != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func main() {
	err := godotenv.Load()
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	db.InitDB()
	utils.InitValidator()

	// Setup logging.
	logger := log.NewLogfmtLogger(os.Stderr)
	logger = log.With(logger, "service", "booking")

	// Set up OTLP tracing (stdout for debug).
	exporter, err := stdout.New(stdout.WithPrettyPrint())
	if err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Setup metrics.
	reg := prometheus.NewRegistry()
	metrics := services.NewMetrics(reg)

	server := services.NewServer(log.With(logger, "component", "admission"), metrics)

	var payment client.PaymentClient
	if url := os.Getenv("PAYMENT_GATE_URL"); url != "" {
		payment = client.InitPaymentClient(url)
	}

	handler := handlers.NewBookingHandler(server, log.With(logger, "component", "http"))
	router := handlers.SetupRouter(handler, log.With(logger, "component", "http"))

	g := &run.Group{}

	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", os.Getenv("PORT")),
		Handler: router,
	}
	g.Add(func() error {
		level.Info(logger).Log("msg", "starting API server", "addr", apiSrv.Addr)
		return apiSrv.ListenAndServe()
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiSrv.Shutdown(ctx); err != nil {
			level.Error(logger).Log("msg", "failed to stop API server", "err", err)
		}
	})

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%s", os.Getenv("METRICS_PORT"))}
	g.Add(func() error {
		m := http.NewServeMux()
		// Create HTTP handler for Prometheus metrics.
		m.Handle("/metrics", promhttp.HandlerFor(
			reg,
			promhttp.HandlerOpts{
				// Opt into OpenMetrics e.g. to support exemplars.
				EnableOpenMetrics: true,
			},
		))
		httpSrv.Handler = m
		level.Info(logger).Log("msg", "starting metrics server", "addr", httpSrv.Addr)
		return httpSrv.ListenAndServe()
	}, func(error) {
		if err := httpSrv.Close(); err != nil {
			level.Error(logger).Log("msg", "failed to stop metrics server", "err", err)
		}
	})

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	sweeper := &services.Sweeper{
		Server:   server,
		Logger:   log.With(logger, "component", "sweeper"),
		Payment:  payment,
		Interval: intervalFromEnv("SWEEP_INTERVAL_SECONDS", 5*time.Minute),
	}
	g.Add(func() error {
		return sweeper.Run(sweepCtx)
	}, func(error) {
		cancelSweep()
	})

	checkCtx, cancelCheck := context.WithCancel(context.Background())
	checker := &services.ConsistencyChecker{
		Server:   server,
		Logger:   log.With(logger, "component", "consistency"),
		Interval: intervalFromEnv("CONSISTENCY_INTERVAL_SECONDS", 15*time.Minute),
	}
	g.Add(func() error {
		return checker.Run(checkCtx)
	}, func(error) {
		cancelCheck()
	})

	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	if err := g.Run(); err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}
}
