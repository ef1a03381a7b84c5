// Package config loads the wsclient YAML configuration.
//
// Files may reference environment variables as ${VAR}; they are expanded
// before parsing. Missing optional fields receive defaults and the result
// is validated with struct tags.
package config
