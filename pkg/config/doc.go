// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv (an optional .env file in the working
// directory) and github.com/caarlos0/env/v11 (struct tag parsing). Load
// caches one parsed value per configuration type; Parse always re-reads the
// environment.
//
//	type Config struct {
//		ClientID string        `env:"CAPI_CLIENT_ID,required"`
//		Timeout  time.Duration `env:"CAPI_HTTP_TIMEOUT" envDefault:"10s"`
//	}
package config
