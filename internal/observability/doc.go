// Package observability builds the process logger and the request logging
// middleware. Every log line written while serving a request carries its
// request ID.
package observability
