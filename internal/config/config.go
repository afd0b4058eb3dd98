// Package config содержит логику чтения конфигурации сервиса bchgate.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса bchgate.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	BlockbookAddress string `env:"BLOCKBOOK_ADDRESS"`
	PriceFeedAddress string `env:"PRICE_FEED_ADDRESS"`
	JWTSecret        string `env:"JWT_SECRET"`
	WalletSeed       string `env:"WALLET_SEED"`
	CompanyAddress   string `env:"COMPANY_ADDRESS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBlockbookAddress := cfg.BlockbookAddress
	envPriceFeedAddress := cfg.PriceFeedAddress
	envJWTSecret := cfg.JWTSecret
	envWalletSeed := cfg.WalletSeed
	envCompanyAddress := cfg.CompanyAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BlockbookAddress, "b", "", "blockbook indexer address")
	flag.StringVar(&cfg.PriceFeedAddress, "p", "", "price feed address")
	flag.StringVar(&cfg.JWTSecret, "j", "", "secret key for signing JWT tokens")
	flag.StringVar(&cfg.WalletSeed, "w", "", "hex-encoded HD wallet seed")
	flag.StringVar(&cfg.CompanyAddress, "c", "", "company address for sweeping deposits")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBlockbookAddress != "" {
		cfg.BlockbookAddress = envBlockbookAddress
	}
	if envPriceFeedAddress != "" {
		cfg.PriceFeedAddress = envPriceFeedAddress
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envWalletSeed != "" {
		cfg.WalletSeed = envWalletSeed
	}
	if envCompanyAddress != "" {
		cfg.CompanyAddress = envCompanyAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
