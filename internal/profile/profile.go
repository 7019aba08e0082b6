package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where mirrord stores user records
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// LLM configuration
	LLMAPIKey      string        // MIRRORD_LLM_API_KEY
	LLMBaseURL     string        // MIRRORD_LLM_BASE_URL (default: https://api.openai.com/v1)
	LLMModel       string        // MIRRORD_LLM_MODEL (default: gpt-4o-mini)
	LLMTimeout     time.Duration // MIRRORD_LLM_TIMEOUT (default: 30s)
	LLMMaxRetries  int           // MIRRORD_LLM_MAX_RETRIES (default: 2, 0 disables retries)
	ExtractorSlots int           // MIRRORD_EXTRACTOR_SLOTS, concurrent memory extraction passes (default: 4)

	// RedisAddr enables the distributed per-identity lock when set.
	RedisAddr     string // MIRRORD_REDIS_ADDR
	RedisPassword string // MIRRORD_REDIS_PASSWORD

	// BillingSecret guards the subscription webhook. Empty disables it.
	BillingSecret string // MIRRORD_BILLING_SECRET

	// Timezone is the fallback IANA zone for the user-local day.
	Timezone string // MIRRORD_TIMEZONE (default: UTC)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMConfigured reports whether an API key is available for the model provider.
func (p *Profile) IsLLMConfigured() bool {
	return p.LLMAPIKey != ""
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q: only sqlite and postgres are supported", p.Driver)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}

	if p.LLMBaseURL == "" {
		p.LLMBaseURL = "https://api.openai.com/v1"
	}
	if p.LLMModel == "" {
		p.LLMModel = "gpt-4o-mini"
	}
	if p.LLMTimeout <= 0 {
		p.LLMTimeout = 30 * time.Second
	}
	if p.LLMMaxRetries < 0 {
		p.LLMMaxRetries = 2
	}
	if p.ExtractorSlots <= 0 {
		p.ExtractorSlots = 4
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "mirrord")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/mirrord"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("mirrord_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}
