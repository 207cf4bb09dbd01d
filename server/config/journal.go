package config

import "time"

type JournalConfig struct {
	Port                       int           `default:"8080"`
	Debug                      bool          `default:"false"`
	AllowedOrigins             []string      `default:"http://localhost:3000"`
	SessionAuthKey             string        `default:"428ce08c21b93e5f0eca24fbeb0c7673"`
	SessionMaxAge              time.Duration `default:"86400s"`
	SessionCookiesSecure       bool          `default:"true"`
	SessionCookiesHTTPOnly     bool          `default:"true"`
	SessionCookiesSameSiteNone bool          `default:"false"`
	MaxSessions                int           `default:"256"`
	QueueSize                  int           `default:"16"`
	ContractCacheSize          int           `default:"1024"`
	KnownContractsFile         string
	StorageBackend             string `default:"sqlite"`
	SqlitePath                 string `default:"fork-journal.db"`
	ForceMigration             bool   `default:"false"`
}

var _ configGetter = &JournalConfig{}

func (c *JournalConfig) getConfig() {
	getEnv("FLOW_JOURNAL", c)
}
