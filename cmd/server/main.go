package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/server"
	"github.com/yasyarik/yaswine/internal/service"
	"github.com/yasyarik/yaswine/internal/service/discovery"
	"github.com/yasyarik/yaswine/pkg/logger"
)

var (
	configPath string
	envFile    string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"

	discoveryOverride discovery.Override
)

var rootCmd = &cobra.Command{
	Use:   "yaswine",
	Short: "Yaswine - blog content factory",
	Long:  `Yaswine drafts, publishes and distributes blog articles, refilling its queue through topic autodiscovery.`,
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Yaswine %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

var autopublishCmd = &cobra.Command{
	Use:   "autopublish",
	Short: "Autopublish commands",
}

var autopublishRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one manual autopublish pass and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(ctx context.Context, svcs *server.Services) any {
			return svcs.Autopublish.Run(ctx, models.TriggerManual)
		})
	},
}

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Topic autodiscovery commands",
}

var discoveryRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one manual topic discovery pass and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(ctx context.Context, svcs *server.Services) any {
			return svcs.Discovery.Run(ctx, models.TriggerManual, discoveryOverride)
		})
	},
}

var (
	secretIssuer  string
	secretAccount string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Admin login commands",
}

var authSecretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a TOTP secret for auth.totp_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, url, err := service.GenerateSecret(secretIssuer, secretAccount)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Secret: %s\n", secret)
		fmt.Fprintf(out, "Provisioning URL: %s\n", url)
		fmt.Fprintln(out, "Set AUTH_TOTP_SECRET (auth.totp_secret) to the secret and add the URL to an authenticator app.")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the config")

	discoveryRunCmd.Flags().StringVar(&discoveryOverride.Direction, "direction", "", "direction for this run")
	discoveryRunCmd.Flags().StringVar(&discoveryOverride.CategoryHint, "category", "", "category hint for this run")

	authSecretCmd.Flags().StringVar(&secretIssuer, "issuer", "Yaswine", "issuer shown in the authenticator app")
	authSecretCmd.Flags().StringVar(&secretAccount, "account", "admin", "account name shown in the authenticator app")

	authCmd.AddCommand(authSecretCmd)
	autopublishCmd.AddCommand(autopublishRunCmd)
	discoveryCmd.AddCommand(discoveryRunCmd)
	rootCmd.AddCommand(versionCmd, authCmd, autopublishCmd, discoveryCmd)
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, appLogger, nil
}

// withServices wires the services without the HTTP server or the scheduler
// loop, runs fn once and prints its result as JSON.
func withServices(fn func(ctx context.Context, svcs *server.Services) any) error {
	cfg, appLogger, err := loadConfig()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	svcs := server.NewServices(cfg, db, appLogger)
	defer svcs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svcs.StartupReconcile(ctx, &cfg.Scheduler.Reconciler); err != nil {
		return fmt.Errorf("failed to reconcile stale jobs: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(fn(ctx, svcs))
}

func runServer(*cobra.Command, []string) error {
	cfg, appLogger, err := loadConfig()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Yaswine server", zap.String("version", version))

	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down server...")
	case <-ctx.Done():
		appLogger.Info("Server context cancelled")
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
