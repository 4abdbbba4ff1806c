// ABOUTME: Configuration loading for the quarry services.
// ABOUTME: YAML files with env expansion, duration parsing, and validation.

// Package config loads and validates YAML configuration for quarry-tools and
// quarry-tasks. Environment variables in ${VAR} form are expanded before
// parsing; duration fields are written as Go duration strings.
package config
