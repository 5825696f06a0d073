// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides
// type-safe access to the worker, database and remote vault settings while
// keeping configuration details separate from business logic.
package config
