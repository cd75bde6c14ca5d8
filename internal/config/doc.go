// Package config loads, validates, and normalizes podbridge configuration
// from TOML, providing repository defaults for every setting.
package config
