package transport

import "errors"

// ErrRejected is returned by Dial when the server declines the stream
var ErrRejected = errors.New("stream rejected by server")
