package producer

import "errors"

var (
	ErrNoGenerator     = errors.New("no generator")
	ErrNoDeliveries    = errors.New("no delivery channel")
	ErrChannelMismatch = errors.New("generator channel count does not match policy")
)
