// Package httputil provides shared HTTP response/request helpers for the
// trigger API handlers, so every endpoint emits the same JSON envelopes.
package httputil
