// Command reviewd serves the review ingestion and insights HTTP API.
//
// Usage:
//
//	reviewd -config config.yaml
//
// Every setting can also be supplied through REVIEWD_* environment
// variables, for example REVIEWD_DATABASE_PATH or REVIEWD_SERVER_PORT.
package main
