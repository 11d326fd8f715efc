package config

import (
	"os"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

var environmentAliases = map[string]string{
	"dev":     environmentDevelopment,
	"prod":    environmentProduction,
	"stag":    environmentStaging,
	"staging": environmentStaging,
}

// AppEnvironment reads APP_ENV, resolving short aliases, and defaults to
// development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// resolveEnvSpecificPath swaps the default config file for the one registered
// for the current environment. Explicit non-default paths are kept.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path == "" {
		path = defaultPath
	}

	if envPath, ok := envPaths[AppEnvironment()]; ok {
		if path == defaultPath || path == envPath {
			return envPath
		}
	}

	return path
}
