package mcpauth

import "errors"

// ErrAuthenticationExpired is returned when a refresh fails and the session
// can no longer produce a usable access token. The session is invalidated; a
// new interactive authorization is required.
var ErrAuthenticationExpired = errors.New("mcpauth: authentication expired")

// ErrProgrammaticMode is returned when an operation requiring a redirect is
// attempted on a session constructed without an OpenURL hook.
var ErrProgrammaticMode = errors.New("mcpauth: session has no redirect capability")
