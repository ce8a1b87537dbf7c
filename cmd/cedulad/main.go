package main

import (
	"flag"
	"time"

	"cedulacheck/lib/configutil"
	"cedulacheck/lib/serviceutil"
	"cedulacheck/services/cedula"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type TseConfig struct {
	BaseUrl        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type Config struct {
	Port int       `json:"port"`
	Tse  TseConfig `json:"tse"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	InitTelemetry(ctx, *verbose)

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	service := cedula.NewService(cedula.Options{
		BaseUrl: cfg.Tse.BaseUrl,
		Timeout: time.Duration(cfg.Tse.TimeoutSeconds) * time.Second,
	})

	r := chi.NewRouter()
	cedula.NewHandler(service, cedula.NewMetrics()).Register(r)
	r.Handle("/metrics", promhttp.Handler())

	go serviceutil.StartHttpServer(cfg.Port, r)
	<-ctx.Done()
}
