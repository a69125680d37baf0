// Package config provides configuration loading and validation for netmic.
// Configuration is YAML; every key is optional and falls back to Default, and
// command line flags are applied on top of the loaded values.
package config
