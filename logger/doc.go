// Package logger provides structured logging for the generation backend,
// built on zerolog. Components obtain tagged sub-loggers via WithComponent
// so engine, store and HTTP logs are filterable by origin.
package logger
