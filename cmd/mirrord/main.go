package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/mirrord/internal/profile"
	"github.com/hrygo/mirrord/internal/version"
	"github.com/hrygo/mirrord/server"
	"github.com/hrygo/mirrord/store"
	"github.com/hrygo/mirrord/store/db"
	"github.com/hrygo/mirrord/store/lock"
)

var (
	rootCmd = &cobra.Command{
		Use:   "mirrord",
		Short: `A conversational companion backend with usage tiers and long-term memory.`,
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile, err := loadProfile()
			if err != nil {
				slog.Error("failed to validate profile", "error", err)
				os.Exit(1)
			}
			setupLogger(instanceProfile)

			ctx, cancel := context.WithCancel(context.Background())
			storeInstance, closeLocker, err := openStore(ctx, instanceProfile)
			if err != nil {
				cancel()
				slog.Error("failed to open store", "error", err)
				return
			}
			defer closeLocker()

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				cancel()
				slog.Error("failed to create server", "error", err)
				return
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			// The default signal sent by the `kill` command is SIGTERM,
			// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)

			if err := s.Start(ctx); err != nil {
				cancel()
				slog.Error("failed to start server", "error", err)
				return
			}

			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}
)

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)
	viper.SetDefault("timezone", "UTC")
	viper.SetDefault("llm-model", "gpt-4o-mini")
	viper.SetDefault("llm-timeout", 30*time.Second)
	viper.SetDefault("llm-max-retries", 2)
	viper.SetDefault("extractor-slots", 4)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver, sqlite or postgres")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("mirrord")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(chatCmd)
}

// loadProfile builds the profile from flags and MIRRORD_* environment variables.
func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:           viper.GetString("mode"),
		Addr:           viper.GetString("addr"),
		Port:           viper.GetInt("port"),
		Data:           viper.GetString("data"),
		Driver:         viper.GetString("driver"),
		DSN:            viper.GetString("dsn"),
		LLMAPIKey:      viper.GetString("llm-api-key"),
		LLMBaseURL:     viper.GetString("llm-base-url"),
		LLMModel:       viper.GetString("llm-model"),
		LLMTimeout:     viper.GetDuration("llm-timeout"),
		LLMMaxRetries:  viper.GetInt("llm-max-retries"),
		ExtractorSlots: viper.GetInt("extractor-slots"),
		RedisAddr:      viper.GetString("redis-addr"),
		RedisPassword:  viper.GetString("redis-password"),
		BillingSecret:  viper.GetString("billing-secret"),
		Timezone:       viper.GetString("timezone"),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.Version = version.GetCurrentVersion(p.Mode)
	return p, nil
}

// setupLogger installs a text handler in dev/demo and a JSON handler in prod.
func setupLogger(p *profile.Profile) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if p.IsDev() {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStore opens and migrates the store. With a Redis address configured the
// per-identity lock is shared across instances.
func openStore(ctx context.Context, p *profile.Profile) (*store.Store, func(), error) {
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, nil, err
	}

	closeLocker := func() {}
	var opts []store.Option
	if p.RedisAddr != "" {
		locker, err := lock.NewRedisLocker(ctx, lock.RedisLockerConfig{
			Addr:     p.RedisAddr,
			Password: p.RedisPassword,
		})
		if err != nil {
			_ = dbDriver.Close()
			return nil, nil, err
		}
		opts = append(opts, store.WithLocker(locker))
		closeLocker = func() {
			if err := locker.Close(); err != nil {
				slog.Warn("failed to close redis locker", "error", err)
			}
		}
	}

	storeInstance := store.New(dbDriver, p, opts...)
	if err := storeInstance.Migrate(ctx); err != nil {
		closeLocker()
		_ = storeInstance.Close()
		return nil, nil, err
	}
	return storeInstance, closeLocker, nil
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Mirrord %s started successfully!\n", p.Version)
	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
		fmt.Printf("Access your server at: http://localhost:%d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
		fmt.Printf("Access your server at: http://%s:%d\n", p.Addr, p.Port)
	}
	fmt.Println()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
