package config

import (
	"fmt"
	"strings"
)

type EnvVars struct {
	Port          string `env:"PORT" env-default:"8080"`
	AppName       string `env:"APP_NAME" env-default:"Login Relay"`
	DataFolder    string `env:"FOLDER" env-default:"./data"`
	LogLevel      string `env:"LOG_LEVEL" env-default:"info"`
	VehicleAPIURL string `env:"VEHICLE_API_URL"`
	Environment   string `env:"ENV" env-default:"DEV"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.Port
	if port == "" {
		port = "8080"
	}
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetDataFolder() string {
	return e.DataFolder
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetVehicleAPIURL returns the upstream the /api/ routes are proxied to. Empty disables the proxy.
func (e EnvVars) GetVehicleAPIURL() string {
	return e.VehicleAPIURL
}

func (e EnvVars) GetEnv() string {
	if e.Environment == "" {
		return "DEV"
	}
	return e.Environment
}
