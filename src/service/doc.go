// Package service serves the state of a node over HTTP: stats, channels,
// topology, properties, routes and prometheus metrics.
package service
