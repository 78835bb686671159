package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alpha-unito/gam/internal/bootstrap"
	"github.com/alpha-unito/gam/internal/cache"
	"github.com/alpha-unito/gam/pkg/gam"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	debug        bool
	metricsAddr  string
	cacheBackend string
	cachePath    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err.Error())
	}
}

var rootCmd = &cobra.Command{
	Use:   "gam-executor",
	Short: "gam-executor",
	Long:  `gam-executor joins a fixed group of peers as one executor of a global associative memory runtime, serving coherence requests until told to shut down.`,

	PreRunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	},

	RunE: runCmdFunc,
}

func init() {
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (addr:port format); empty disables")
	rootCmd.Flags().StringVar(&cacheBackend, "cache-backend", "memory", "read-through cache backend: memory or bbolt")
	rootCmd.Flags().StringVar(&cachePath, "cache-path", "gam-cache.db", "path to the bbolt database file when --cache-backend=bbolt")
}

func runCmdFunc(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap.FromEnv()
	if err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{"rank": cfg.Rank, "cardinality": cfg.Cardinality})

	registry := prometheus.NewRegistry()
	opts := []gam.Option{gam.WithMetricsRegisterer(registry)}

	switch cacheBackend {
	case "memory":
	case "bbolt":
		b, err := cache.NewBoltBackend(cachePath)
		if err != nil {
			return err
		}
		opts = append(opts, gam.WithCacheBackend(b))
	default:
		log.Fatalf("unknown cache backend %q", cacheBackend)
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			log.WithField("address", metricsAddr).Info("serving metrics")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
		defer server.Close()
	}

	ctx, err := gam.New(cfg, opts...)
	if err != nil {
		return err
	}

	log.Info("executor up, waiting for a termination signal")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	ctx.Shutdown()
	return nil
}
