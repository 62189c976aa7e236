// Package config provides configuration loading and validation for the scribe service.
// It handles YAML-based configuration layered over built-in defaults, with API keys
// and the development stub switch taken from the environment.
package config
