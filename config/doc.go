// Package config loads the daemon's configuration from a YAML file, an
// optional .env file and process environment variables, in that order of
// increasing precedence.
package config
