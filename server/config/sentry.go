package config

type SentryConfig struct {
	Dsn              string
	Debug            bool `default:"false"`
	AttachStacktrace bool `default:"true"`
}

var _ configGetter = &SentryConfig{}

func (c *SentryConfig) getConfig() {
	getEnv("SENTRY", c)
}
