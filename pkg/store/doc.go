// Package store provides the persistence implementations behind the domain
// packages' store contracts: an in-memory store for development and tests,
// and a SQLite store for single-node deployments.
package store
