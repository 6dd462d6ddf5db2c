// Package cli implements the command-line interface for web-monitor.
//
// The root command (also available as "run") starts the polling loop. It
// builds the configuration from defaults, an optional YAML file, the
// environment, positional arguments and flags, in that order of precedence.
// "check" performs a single fetch without notifying, "history" prints the
// recorded observations and "version" prints the build version.
package cli
