package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

const (
	EnvironmentDevelopment = environmentDevelopment
	EnvironmentProduction  = environmentProduction
	EnvironmentStaging     = environmentStaging
)

var environmentAliases = map[string]string{
	"dev":     environmentDevelopment,
	"prod":    environmentProduction,
	"live":    environmentProduction,
	"stag":    environmentStaging,
	"paper":   environmentStaging,
	"staging": environmentStaging,
}

// getAppEnvironment reads the application environment from APP_ENV and
// defaults to development when no value is provided.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// envSpecificPath turns config/config.yml into config/config.<env>.yml.
func envSpecificPath(path, env string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + env + ext
}

// ResolvePath selects the environment specific variant of path when it
// exists on disk. An empty path means DefaultPath.
func ResolvePath(path string) string {
	if path == "" {
		path = DefaultPath
	}
	candidate := envSpecificPath(path, getAppEnvironment())
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

// AppEnvironment exposes the current application environment as configured
// through APP_ENV, normalised with the same alias rules used for files.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether env trades against a real account.
// Session.EndSession refuses to flatten positions in such an environment
// unless an account is named.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}
