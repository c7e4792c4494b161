// Package client provides the raw JSON over HTTP client used to talk to the
// salt, session, login and query endpoints. Requests carry the session
// cookie, so the configured HTTP client keeps a cookie jar.
package client
