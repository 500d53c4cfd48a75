package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CermakM/osiris-build-observer/internal/api"
	"github.com/CermakM/osiris-build-observer/internal/auth"
	"github.com/CermakM/osiris-build-observer/internal/config"
	"github.com/CermakM/osiris-build-observer/internal/exporter"
	"github.com/CermakM/osiris-build-observer/internal/forwarder"
	"github.com/CermakM/osiris-build-observer/internal/kube"
	"github.com/CermakM/osiris-build-observer/internal/logging"
	"github.com/CermakM/osiris-build-observer/internal/metrics"
	"github.com/CermakM/osiris-build-observer/internal/observer"
	"github.com/CermakM/osiris-build-observer/internal/retry"
	"github.com/CermakM/osiris-build-observer/internal/status"
	"github.com/CermakM/osiris-build-observer/internal/version"
)

func main() {
	os.Exit(run())
}

// run wires the observer and returns the process exit code. Deferred cleanup
// runs before main exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	observerVersion := version.Value()

	logger := logging.New(cfg.EffectiveLogLevel(), cfg.DryRun)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	kubeClient, err := kube.NewClient(cfg.KubeconfigPath)
	if err != nil {
		logger.Error("failed to create kube client", slog.String("error", err.Error()))
		return 1
	}

	namespace, err := kube.DiscoverNamespace(kube.NamespaceFile, cfg.Namespace)
	if err != nil {
		logger.Error("failed to discover namespace", slog.String("error", err.Error()))
		return 1
	}

	token, err := kube.ReadToken(kube.TokenFile, kubeClient)
	if err != nil {
		logger.Warn("no service account token, logging in without one", slog.String("error", err.Error()))
	}

	clusterServer := resolveClusterServer(ctx, cfg, kubeClient, logger)

	logger.Info("starting osiris build observer",
		slog.String("version", observerVersion),
		slog.String("namespace", namespace),
		slog.String("osiris", cfg.BaseURL()),
		slog.String("clusterServer", clusterServer),
		slog.Bool("inCluster", kubeClient.InCluster),
	)

	httpClient, err := retry.NewHTTPClient()
	if err != nil {
		logger.Error("failed to create http client", slog.String("error", err.Error()))
		return 1
	}
	sender := retry.NewClient(httpClient, cfg.RetryPolicy(), logger.With(slog.String("component", "retry")))

	store := status.NewStore(namespace, cfg.DryRun, time.Now())

	if cfg.ListenAddr != "" {
		mux := exporter.NewMux(api.NewHandler(observerVersion, store))
		server := exporter.NewServer(cfg.ListenAddr, mux, logger)
		go func() {
			if err := server.Run(ctx); err != nil {
				logger.Error("server error", slog.String("error", err.Error()))
			}
		}()
	}

	authenticator := auth.NewAuthenticator(sender, cfg.BaseURL(), cfg.RequestTimeout, logger)
	login(ctx, authenticator, auth.Credential{Server: clusterServer, Token: token}, store, logger)
	if ctx.Err() != nil {
		return 0
	}

	fwd := forwarder.New(sender, forwarder.Config{
		BaseURL:   cfg.BaseURL(),
		DryRun:    cfg.DryRun,
		Timeout:   cfg.RequestTimeout,
		Gzip:      cfg.Gzip,
		UserAgent: "osiris-build-observer/" + observerVersion,
	}, logger)

	source := kube.NewEventSource(kubeClient.Kubernetes, namespace, logger)

	logger.Info("watching for events", slog.String("namespace", namespace))
	orchestrator := observer.New(fwd, clusterServer, store, logger)
	return watchEvents(ctx, orchestrator, source, logger)
}

// stoppableSource is an event source holding a watch that must be released.
type stoppableSource interface {
	observer.Source
	Stop()
}

// watchEvents runs the loop and maps its outcome to an exit code. The source is
// stopped on every path.
func watchEvents(ctx context.Context, orchestrator *observer.Orchestrator, source stoppableSource, logger *slog.Logger) int {
	defer source.Stop()
	if err := orchestrator.Run(ctx, source); err != nil {
		var streamErr *observer.StreamError
		if errors.As(err, &streamErr) {
			logger.Error("event stream ended", slog.String("error", err.Error()))
			return 1
		}
	}
	logger.Info("shutting down")
	return 0
}

// resolveClusterServer picks the API server URL sent at login: configured
// value, then what the cluster advertises, then the client's own host.
func resolveClusterServer(ctx context.Context, cfg config.Config, client *kube.Client, logger *slog.Logger) string {
	if cfg.ClusterServer != "" {
		return cfg.ClusterServer
	}
	detectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	server, err := kube.DetectClusterServer(detectCtx, client.Kubernetes)
	if err == nil && server != "" {
		logger.Info("detected cluster server", slog.String("clusterServer", server))
		return server
	}
	if err != nil {
		logger.Debug("cluster server not advertised", slog.String("error", err.Error()))
	}
	return client.Host()
}

// login performs the handshake once. A rejected login is recorded but does not
// stop the observer.
func login(ctx context.Context, authenticator *auth.Authenticator, cred auth.Credential, store *status.Store, logger *slog.Logger) {
	result, err := authenticator.Authenticate(ctx, cred)
	at := time.Now().UTC()
	record := status.Login{
		Attempted:  true,
		Accepted:   err == nil,
		StatusCode: result.StatusCode,
		At:         &at,
	}
	if err != nil {
		record.Error = err.Error()
		metrics.LoginAccepted.Set(0)
		logger.Warn("login to osiris failed, continuing without an accepted session",
			slog.Int("status", result.StatusCode),
			slog.Int("retries", result.Retries),
			slog.String("error", err.Error()),
		)
	} else {
		metrics.LoginAccepted.Set(1)
	}
	store.SetLogin(record)
}
