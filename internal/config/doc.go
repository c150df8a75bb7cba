// Package config loads and validates the YAML configuration for
// streamcore binaries. ${VAR} references in the file are expanded from
// the environment before parsing.
package config
