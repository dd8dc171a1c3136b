// Package httputil provides shared JSON response and request helpers for
// the API handlers, so every endpoint uses the same error envelope.
package httputil
