package config

type DatabaseConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
}

var _ configGetter = &DatabaseConfig{}

func (c *DatabaseConfig) getConfig() {
	getEnv("FLOW_DB", c)
}
