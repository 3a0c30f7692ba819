// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// One file configures both binaries: replayserver reads server, session,
// database, metrics and log; recorder additionally reads the recorder section.
package config
