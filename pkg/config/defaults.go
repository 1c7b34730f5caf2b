package config

import "time"

const (
	defaultHost           = "127.0.0.1"
	defaultPort           = 30030
	defaultDeviceFile     = "devices.json"
	defaultTokensFile     = ".tokens"
	defaultCommandTimeout = 360 * time.Second
)
