// Package config содержит логику чтения конфигурации сервиса бирмаркет.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса бирмаркет.
type Config struct {
	RunAddress            string `env:"RUN_ADDRESS"`
	DatabaseURI           string `env:"DATABASE_URI"`
	PaymentGatewayAddress string `env:"PAYMENT_GATEWAY_ADDRESS"`
	StorefrontURL         string `env:"STOREFRONT_URL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayAddress := cfg.PaymentGatewayAddress
	envStorefrontURL := cfg.StorefrontURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentGatewayAddress, "g", "", "payment gateway address")
	flag.StringVar(&cfg.StorefrontURL, "s", "http://localhost:3000", "storefront base URL for payment redirects")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayAddress != "" {
		cfg.PaymentGatewayAddress = envGatewayAddress
	}
	if envStorefrontURL != "" {
		cfg.StorefrontURL = envStorefrontURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

// SuccessURL возвращает адрес перенаправления после успешной оплаты.
func (c *Config) SuccessURL() string {
	return c.StorefrontURL + "/order/success"
}

// CancelURL возвращает адрес перенаправления после отмены оплаты.
func (c *Config) CancelURL() string {
	return c.StorefrontURL + "/order/canceled"
}
