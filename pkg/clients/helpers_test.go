package clients

import "github.com/ajitpratap0/airsync/pkg/config"

func newHTTPConfigForTest() config.HTTPConfig {
	cfg := config.Default().HTTP
	cfg.EnableHTTP2 = false
	return cfg
}
