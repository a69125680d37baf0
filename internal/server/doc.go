// Package server exposes netmic on the network: a TCP server that hands the
// listening socket to the session manager, and an optional HTTP API with
// health, session, statistics and Prometheus endpoints.
package server
