package config

import "github.com/caarlos0/env/v11"

// TestConfig points integration tests at a scratch Postgres. Each test gets
// its own schema named <SchemaPrefix>_<nanos>.
type TestConfig struct {
	TestPostgresDSN string `env:"TEST_POSTGRES_DSN,required,notEmpty"`
	SchemaPrefix    string `env:"TEST_SCHEMA_PREFIX" envDefault:"sync_test"`
}

func LoadTest() (TestConfig, error) {
	var cfg TestConfig
	err := env.Parse(&cfg)
	return cfg, err
}
