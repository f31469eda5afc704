// Package auth provides API key middleware for the processor's HTTP routes.
//
// APIKey(mode, header, key) wraps a handler. When mode != "apikey" or key is
// empty every request passes through, which suits local development. A
// missing or wrong key gets 401 before the wrapped handler runs.
package auth
