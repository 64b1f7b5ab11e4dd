package session

import "errors"

// ErrNoActiveSession indicates a conversation call was made without a session.
var ErrNoActiveSession = errors.New("no active session")

// ErrChannelExhausted indicates the push channel spent its reconnection
// budget. The session itself stays usable over plain request/response.
var ErrChannelExhausted = errors.New("push channel reconnection budget exhausted")
