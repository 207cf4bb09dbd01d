package config

import "time"

// ForkConfig configures the simulated chain backing journal sessions.
type ForkConfig struct {
	// Backend is either "memory" or "rpc"
	Backend string `default:"memory"`
	// RPCURLs are the JSON-RPC endpoints of forking nodes when Backend is "rpc".
	// Every node serves one session at a time.
	RPCURLs []string `default:"http://127.0.0.1:8545"`
	// Account is the hex address new sessions execute as, empty for the node default
	Account string
	// PoolSize is the number of memory forks prepared ahead of time
	PoolSize int `default:"4"`
	// Timeout bounds every call made to the fork
	Timeout time.Duration `default:"30s"`
}

var _ configGetter = &ForkConfig{}

func (c *ForkConfig) getConfig() {
	getEnv("FORK", c)
}
