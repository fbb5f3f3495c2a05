package main

import (
	"flag"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"example.com/storefront/internal/checkout"
	"example.com/storefront/internal/config"
	"example.com/storefront/internal/logging"
)

func main() {
	cfg := config.Load()
	var (
		hostPort  = flag.String("temporal", cfg.TemporalHostPort, "Temporal frontend host:port")
		namespace = flag.String("namespace", cfg.TemporalNamespace, "Temporal namespace")
		apiURL    = flag.String("api", cfg.APIBaseURL, "base URL of the commerce API")
	)
	flag.Parse()

	logger := logging.New(cfg.LogFormat, cfg.LogLevel).With("component", "checkout.worker")

	sealer, err := checkout.NewTokenSealer(cfg.TokenSecret)
	if err != nil {
		logger.Error("CHECKOUT_TOKEN_SECRET must match the storefront's", "error", err)
		os.Exit(1)
	}

	c, err := client.Dial(client.Options{
		HostPort:  *hostPort,
		Namespace: *namespace,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("dial temporal failed", "error", err, "host_port", *hostPort)
		os.Exit(1)
	}
	defer c.Close()

	w := checkout.RegisterWorker(c, checkout.NewActivities(*apiURL, cfg.HTTPTimeout, sealer, logger))
	logger.Info("checkout worker started", "task_queue", checkout.TaskQueue(), "api", *apiURL)
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
