package stream

import "errors"

var (
	ErrConnectionTimeout = errors.New("stream: connection timeout")
	ErrSendFailure       = errors.New("stream: send failed")
	ErrParseFailure      = errors.New("stream: malformed frame")
	ErrTransportClosed   = errors.New("stream: transport closed")
)
