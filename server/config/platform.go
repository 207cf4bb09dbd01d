package config

type PlatformType string

const (
	Local      PlatformType = "LOCAL"
	Staging    PlatformType = "STAGING"
	Production PlatformType = "PRODUCTION"
)

type PlatformConfig struct {
	Type PlatformType `default:"LOCAL"`
}

var _ configGetter = &PlatformConfig{}

func (c *PlatformConfig) getConfig() {
	getEnv("PLATFORM", c)
}
