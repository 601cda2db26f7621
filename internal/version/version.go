// ABOUTME: Version constants for tidepool binaries
// ABOUTME: Reported in the hello handshake and device info
package version

const (
	// Version is the release version
	Version = "0.3.0"

	// Product is the product name sent as device info
	Product = "Tidepool"

	// Manufacturer is the vendor name sent as device info
	Manufacturer = "Resonate"

	// ProtocolVersion is the stream protocol version in hello messages
	ProtocolVersion = 1
)
