package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/sorcerlabs/auctionflow/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
)

// Auction sites the workflow accepts submissions from unless overridden.
var defaultAllowedURLs = []string{
	"https://www.liveauctioneers.com/",
	"https://www.invaluable.com/",
	"https://bid.hindmanauctions.com/",
}

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the auctionflow service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key used to verify access tokens issued by the identity provider
	TokenSecret string

	// Secret the payment gateway signs webhook payloads with
	PaymentWebhookSecret string

	// Shared secrets for machine-to-machine callers
	CronSecret      string
	PipelineSecret  string
	ProvisionSecret string

	// External pipeline endpoints
	PipelineDispatchURL string
	ProgressionURL      string

	// URL prefixes accepted for item submission
	AllowedURLs []string

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		ListenAddr:  defaultListenAddr,
		AllowedURLs: defaultAllowedURLs,
		Environment: defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setStrings := func(o *[]string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = strings.Split(value, ",")
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":            setString(&c.ListenAddr),
		"DATABASE_URI":           setString(&c.DatabaseDSN),
		"TOKEN_SECRET":           setString(&c.TokenSecret),
		"PAYMENT_WEBHOOK_SECRET": setString(&c.PaymentWebhookSecret),
		"CRON_SECRET":            setString(&c.CronSecret),
		"PIPELINE_SECRET":        setString(&c.PipelineSecret),
		"PROVISION_SECRET":       setString(&c.ProvisionSecret),
		"PIPELINE_DISPATCH_URL":  setString(&c.PipelineDispatchURL),
		"PROGRESSION_URL":        setString(&c.ProgressionURL),
		"ALLOWED_URLS":           setStrings(&c.AllowedURLs),
		"LOG_LEVEL":              setString(&c.LogLevel),
		"ENVIRONMENT":            setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("auctionflow", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.TokenSecret, "token-secret", "s", c.TokenSecret, "Access token verification secret")
	fs.StringVar(&c.PaymentWebhookSecret, "payment-webhook-secret", c.PaymentWebhookSecret, "Payment gateway webhook signing secret")
	fs.StringVar(&c.CronSecret, "cron-secret", c.CronSecret, "Shared secret for cron triggers")
	fs.StringVar(&c.PipelineSecret, "pipeline-secret", c.PipelineSecret, "Shared secret for pipeline callbacks")
	fs.StringVar(&c.ProvisionSecret, "provision-secret", c.ProvisionSecret, "Shared secret for provisioning calls")
	fs.StringVar(&c.PipelineDispatchURL, "pipeline-dispatch-url", c.PipelineDispatchURL, "External pipeline dispatch endpoint")
	fs.StringVar(&c.ProgressionURL, "progression-url", c.ProgressionURL, "Item progression notification endpoint")
	fs.StringSliceVar(&c.AllowedURLs, "allowed-urls", c.AllowedURLs, "Accepted auction site URL prefixes")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production)")

	return fs.Parse(args)
}
