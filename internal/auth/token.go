package auth

import "os"

// TokenSource yields the current bearer credential. The credential is owned
// by the host application: it is re-read at every connection open and every
// REST call, and never cached beyond the lifetime of one connection. An empty
// token means "not authenticated yet" and is not an error.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed credential, useful for tests and short-lived tools.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// EnvToken reads the credential from an environment variable on every call,
// so an external login flow can rotate it without restarting the client.
type EnvToken string

func (t EnvToken) Token() string { return os.Getenv(string(t)) }
