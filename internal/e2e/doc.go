// Package e2e runs real servers and clients against each other over loopback sockets.
// The scenarios take several seconds of wall time and are skipped with -short.
package e2e
