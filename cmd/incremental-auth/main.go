package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/information-sharing-networks/incremental-auth/internal/community"
	"github.com/information-sharing-networks/incremental-auth/internal/config"
	"github.com/information-sharing-networks/incremental-auth/internal/logger"
	"github.com/information-sharing-networks/incremental-auth/internal/picket"
	"github.com/information-sharing-networks/incremental-auth/internal/session"
	"github.com/information-sharing-networks/incremental-auth/internal/ui/server"
	"github.com/information-sharing-networks/incremental-auth/internal/version"
)

const sessionJanitorInterval = 5 * time.Minute

func main() {
	cmd := &cobra.Command{
		Use:   "incremental-auth",
		Short: "Incremental auth demo",
		Long: `Token gated community page using the Picket API.
Users connect a wallet once and then prove token ownership separately for each community.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}

	cmd.Version = version.Get().String()

	cmd.AddCommand(newCommunitiesCommand())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommunitiesCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "communities",
		Short: "Validate and list the community catalog",
		Long:  `Loads the catalog (the embedded default, or --file / COMMUNITIES_FILE) and prints one line per community.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = os.Getenv("COMMUNITIES_FILE")
			}
			catalog, err := community.LoadFile(file)
			if err != nil {
				return err
			}
			return printCatalog(cmd.OutOrStdout(), catalog)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog json file (default: embedded catalog)")
	return cmd
}

func printCatalog(out io.Writer, catalog *community.Catalog) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCONTRACT\tMIN BALANCE")
	for _, com := range catalog.All() {
		minBalance := com.MinTokenBalance
		if minBalance == "" {
			minBalance = "1"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", com.Name, community.ChecksumAddress(com.ContractAddress), minBalance)
	}
	return tw.Flush()
}

func run() error {
	cfg, err := config.NewConfig()
	if err != nil {
		// the logger is not configured yet
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		return err
	}

	appLogger := logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)
	slog.SetDefault(appLogger)

	appLogger.Info("Starting incremental-auth", slog.String("version", version.Get().Version))

	if cfg.UsingPlaceholderKey() {
		appLogger.Warn("PICKET_PUBLISHABLE_KEY is not set - using the placeholder key, wallet login will fail",
			slog.String("placeholder", config.PlaceholderPicketKey),
		)
	}

	catalog, err := community.LoadFile(cfg.CommunitiesFile)
	if err != nil {
		appLogger.Error("Failed to load community catalog", slog.String("error", err.Error()))
		return err
	}
	appLogger.Info("community catalog loaded", slog.Int("communities", catalog.Len()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newSessionStore(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to create session store", slog.String("error", err.Error()))
		return err
	}
	defer closeStore()

	client := picket.NewClient(cfg.PicketAPIURL, cfg.PicketAPIKey,
		picket.WithHTTPClient(newPicketHTTPClient(cfg.PicketTimeout)),
		picket.WithRetry(cfg.PicketMaxRetries, 200*time.Millisecond),
	)
	appLogger.Info("using Picket API", slog.String("url", cfg.PicketAPIURL))

	apiCORS, err := config.NewAPICORS(cfg)
	if err != nil {
		appLogger.Error("Failed to create CORS middleware", slog.String("error", err.Error()))
		return err
	}

	srv := server.NewServer(cfg, appLogger, catalog, client, store, apiCORS)

	if err := srv.Start(ctx); err != nil {
		appLogger.Error("server error", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("server shutdown complete")
	return nil
}

// newSessionStore returns the configured store and a func that releases its resources
func newSessionStore(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) (session.Store, func(), error) {
	switch cfg.SessionStore {
	case "redis":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		client, err := session.NewRedisClient(connectCtx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		appLogger.Info("using redis session store", slog.String("addr", client.Options().Addr))
		return session.NewRedisStore(client, cfg.SessionTTL), func() { closeRedis(client, appLogger) }, nil
	default:
		store := session.NewMemoryStore(cfg.SessionTTL)
		go store.Run(ctx, sessionJanitorInterval, appLogger)
		appLogger.Info("using in-memory session store")
		return store, func() {}, nil
	}
}

func newPicketHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func closeRedis(client *redis.Client, appLogger *slog.Logger) {
	if err := client.Close(); err != nil {
		appLogger.Warn("error closing redis client", slog.String("error", err.Error()))
	}
}
