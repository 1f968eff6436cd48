package config

// Package config loads application settings from a TOML file with defaults
// for every key. Corrupt or missing configuration degrades to defaults and
// never blocks startup.
