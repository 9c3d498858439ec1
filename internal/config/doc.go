// Package config provides configuration loading and validation for the live
// transcription service. It handles YAML-based configuration with per-section
// struct validation.
package config
