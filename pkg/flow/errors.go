// ABOUTME: Sentinel errors for flow-control policy validation
// ABOUTME: Callers match these with errors.Is
package flow

import "errors"

var (
	ErrInvalidTides       = errors.New("low tide must be positive and below high tide")
	ErrInvalidRequestSize = errors.New("buffer request size must be a positive multiple of the channel count")
	ErrInvalidChannels    = errors.New("channels must be 1 or 2")
	ErrInvalidResolution  = errors.New("unknown resolution")
	ErrInvalidOutstanding = errors.New("max outstanding requests must not be negative")
	ErrImmutableField     = errors.New("resolution and channels are fixed for the lifetime of a stream")
	ErrPolicyTooLarge     = errors.New("priming batch exceeds the blocks one delivery can carry")
)
