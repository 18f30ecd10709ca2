// Package config defines the updater settings and provides helpers to load,
// validate and save them in YAML format.
//
// Load layers defaults, the settings file and SELFUPDATE_* environment
// variables through viper; Save writes the file back with yaml.v3.
package config
