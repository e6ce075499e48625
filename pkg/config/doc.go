// Package config loads searchpulse configuration from SEARCHPULSE_* environment
// variables layered over an optional YAML file, with fsnotify-based hot reload
// for runtime-tunable values.
package config
