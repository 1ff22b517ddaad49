package config_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/companion/pkg/config"
)

type cachedConfig struct {
	Name string `env:"TEST_CACHED_NAME" envDefault:"default"`
}

type parsedConfig struct {
	Name    string        `env:"TEST_PARSED_NAME" envDefault:"default"`
	Timeout time.Duration `env:"TEST_PARSED_TIMEOUT" envDefault:"10s"`
}

type requiredConfig struct {
	Required string `env:"TEST_REQUIRED_VALUE,required"`
}

func TestLoad_CachesPerType(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	t.Setenv("TEST_CACHED_NAME", "first")
	var cfg cachedConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "first", cfg.Name)

	t.Setenv("TEST_CACHED_NAME", "second")
	var again cachedConfig
	require.NoError(t, config.Load(&again))
	assert.Equal(t, "first", again.Name, "cached value is returned")

	config.Reset()
	var reloaded cachedConfig
	require.NoError(t, config.Load(&reloaded))
	assert.Equal(t, "second", reloaded.Name)
}

func TestParse_DefaultsAndOverrides(t *testing.T) {
	os.Unsetenv("TEST_PARSED_NAME")
	t.Setenv("TEST_PARSED_TIMEOUT", "3s")

	var cfg parsedConfig
	require.NoError(t, config.Parse(&cfg))
	assert.Equal(t, "default", cfg.Name)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}

func TestLoad_MissingRequired(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)
	os.Unsetenv("TEST_REQUIRED_VALUE")

	var cfg requiredConfig
	err := config.Load(&cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrParsingConfig))
}

func TestLoad_NilPointer(t *testing.T) {
	err := config.Load[cachedConfig](nil)
	assert.ErrorIs(t, err, config.ErrNilPointer)

	err = config.Parse[parsedConfig](nil)
	assert.ErrorIs(t, err, config.ErrNilPointer)
}

func TestMustLoad_Panics(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)
	os.Unsetenv("TEST_REQUIRED_VALUE")

	assert.Panics(t, func() {
		var cfg requiredConfig
		config.MustLoad(&cfg)
	})
}
