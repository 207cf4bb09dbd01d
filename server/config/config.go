package config

import (
	"log"
	"sync"

	"github.com/kelseyhightower/envconfig"
)

// config holds all parsed environment variables
var config struct {
	once      sync.Once
	platform  PlatformConfig
	journal   JournalConfig
	fork      ForkConfig
	sentry    SentryConfig
	database  DatabaseConfig
	telemetry TelemetryConfig
}

func Platform() PlatformType {
	parseConfig()
	return config.platform.Type
}

func Journal() JournalConfig {
	parseConfig()
	return config.journal
}

func Fork() ForkConfig {
	parseConfig()
	return config.fork
}

func Sentry() SentryConfig {
	parseConfig()
	return config.sentry
}

func Database() DatabaseConfig {
	parseConfig()
	return config.database
}

func Telemetry() TelemetryConfig {
	parseConfig()
	return config.telemetry
}

type configGetter interface {
	getConfig()
}

// parseConfig parses all environment variables into config
func parseConfig() {
	config.once.Do(func() {
		for _, c := range []configGetter{
			&config.platform,
			&config.journal,
			&config.fork,
			&config.sentry,
			&config.database,
			&config.telemetry,
		} {
			c.getConfig()
		}
	})
}

// getEnv parses environment variables into dest pointer
func getEnv(name string, dest interface{}) {
	if err := envconfig.Process(name, dest); err != nil {
		log.Fatal(err)
	}
}
