package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PetalPostLab/petalpost/backend/internal/config"
	"github.com/PetalPostLab/petalpost/backend/internal/database"
	"github.com/PetalPostLab/petalpost/backend/internal/logging"
	"github.com/PetalPostLab/petalpost/backend/internal/payments"
	"github.com/PetalPostLab/petalpost/backend/internal/proposals"
	"github.com/PetalPostLab/petalpost/backend/internal/server"
	"github.com/PetalPostLab/petalpost/backend/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "petalpost-api",
		Short: "PetalPost proposal backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("base-url", defaults.GetString("http.base_url"), "Public base URL for share links")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("premium-force-enabled", defaults.GetBool("premium.force_enabled"), "Activate premium gating without payment (development only)")
	cmd.PersistentFlags().String("payment-secret", "", "Webhook verification secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.base_url", "base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "premium.force_enabled", "premium-force-enabled")
	bindFlag(cmd, "payment.secret", "payment-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	proposalsService, err := proposals.NewService(proposals.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: proposals.NewShareIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	reconciler, err := payments.NewReconciler(payments.ExpectedParams{
		Secret:          appConfig.PaymentSecret,
		Amount:          appConfig.PaymentExpectedAmount,
		Currency:        appConfig.PaymentCurrency,
		APIReference:    appConfig.PaymentAPIReference,
		AmountTolerance: appConfig.PaymentAmountTolerance,
	})
	if err != nil {
		return err
	}

	var uploader *storage.Uploader
	storageConfig := storage.Config{
		Endpoint:        appConfig.StorageEndpoint,
		Region:          appConfig.StorageRegion,
		Bucket:          appConfig.StorageBucket,
		AccessKeyID:     appConfig.StorageAccessKeyID,
		SecretAccessKey: appConfig.StorageSecretAccessKey,
		PublicURL:       appConfig.StoragePublicURL,
	}
	if storageConfig.Configured() {
		uploader, err = storage.NewUploader(ctx, storageConfig)
		if err != nil {
			return err
		}
	} else {
		logger.Info("media uploads disabled, storage not configured")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Proposals:           proposalsService,
		Reconciler:          reconciler,
		Uploader:            uploader,
		SessionIDs:          proposals.NewUUIDProvider(),
		BaseURL:             appConfig.BaseURL,
		PremiumForceEnabled: appConfig.PremiumForceEnabled,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
