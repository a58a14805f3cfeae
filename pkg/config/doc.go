// Package config loads fleet daemon configuration from the environment.
package config
