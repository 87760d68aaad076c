// BoltIndex server and CLI
// Maintains multi-view hierarchical embeddings of documents across revisions
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/boltindex/internal/config"
	"github.com/nainya/boltindex/internal/logger"
	"github.com/nainya/boltindex/internal/metrics"
	"github.com/nainya/boltindex/internal/server"
	"github.com/nainya/boltindex/pkg/document"
	"github.com/nainya/boltindex/pkg/source"
)

var (
	configPath string
	envFile    string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "boltindex",
		Short:         "Incremental multi-view embeddings for hierarchical documents",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "boltindex.yaml", "Configuration file path")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the configuration")
	root.AddCommand(serveCmd(), applyCmd())
	return root
}

// loadConfig reads the env file, when present, then the configuration
func loadConfig() (*config.Config, *logger.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.InitGlobalLogger(logger.Config{
		Level:      cfg.Logging.Level,
		Pretty:     cfg.Logging.Pretty,
		WithCaller: cfg.Logging.WithCaller,
	})
	return cfg, logger.GetGlobalLogger(), nil
}

func serveCmd() *cobra.Command {
	var watchDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if watchDir != "" {
				cfg.Source.Dir = watchDir
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&watchDir, "watch", "", "Directory of markdown documents to index and follow")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.LogServerStart(cfg.Server.Port, cfg.Storage.Backend)

	m := metrics.NewMetrics()
	defer m.Close()

	a, err := newApp(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Warm(ctx); err != nil {
		return fmt.Errorf("load committed documents: %w", err)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.Server.MaxMessageBytes),
		grpc.MaxSendMsgSize(cfg.Server.MaxMessageBytes),
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, log)),
	)
	server.RegisterBoltIndexServer(grpcServer, server.NewServer(a.engine, log))
	reflection.Register(grpcServer)

	var obs *server.ObservabilityServer
	if cfg.Observability.Enabled {
		obs = server.NewObservabilityServer(cfg.Observability.Port, nil, nil, log)
		go func() {
			if err := obs.Start(); err != nil {
				log.Error("observability server stopped").Err(err).Send()
			}
		}()
	}

	if cfg.Source.Dir != "" {
		if err := follow(ctx, a, cfg, log); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.LogServerReady(cfg.Server.Port)
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.LogServerShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	if obs != nil {
		if err := obs.Shutdown(shutdownCtx); err != nil {
			log.Warn("observability shutdown").Err(err).Send()
		}
	}
	return nil
}

// follow indexes every document in the source directory and applies an
// update for each change notification until ctx ends
func follow(ctx context.Context, a *app, cfg *config.Config, log *logger.Logger) error {
	opts := source.DefaultDirOptions()
	if cfg.Source.Debounce > 0 {
		opts.Debounce = cfg.Source.Debounce
	}
	opts.Logger = log
	dir, err := source.NewDir(cfg.Source.Dir, opts)
	if err != nil {
		return err
	}

	ids, err := dir.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		applyFrom(ctx, a, dir, id, "", log)
	}

	events := dir.Watch(ctx)
	go func() {
		for n := range events {
			if n.Removed {
				log.Info("source document removed").Str("document_id", n.DocumentID).Send()
				continue
			}
			applyFrom(ctx, a, dir, n.DocumentID, n.Revision, log)
		}
	}()
	return nil
}

func applyFrom(ctx context.Context, a *app, src source.Source, id, rev string, log *logger.Logger) {
	doc, err := src.GetDocument(ctx, id, rev)
	if err != nil {
		log.Warn("read source document").Str("document_id", id).Err(err).Send()
		return
	}
	// LogUpdate inside the engine reports the outcome
	_, _ = a.engine.ApplyUpdate(ctx, id, doc)
}

func applyCmd() *cobra.Command {
	var documentID string
	cmd := &cobra.Command{
		Use:   "apply <file.md>",
		Short: "Apply one markdown file to the configured store and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if documentID == "" {
				documentID = documentIDFromPath(args[0])
			}
			doc := document.Parse(documentID, string(data))
			doc.UpdatedAt = time.Now()

			a, err := newApp(cmd.Context(), cfg, log, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.ApplyUpdate(cmd.Context(), documentID, doc)
			if err != nil {
				if res != nil && res.Report != nil {
					printJSON(cmd, res.Report)
				}
				return err
			}
			printJSON(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&documentID, "id", "", "Document id (defaults to the file name)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
}
