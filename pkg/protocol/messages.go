// ABOUTME: Stream protocol message type definitions
// ABOUTME: Defines the hello handshake, refill requests and block deliveries
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
	"github.com/Resonate-Protocol/tidepool/pkg/flow"
)

// Text message types
const (
	TypeClientHello = "client/hello"
	TypeServerHello = "server/hello"
	TypeRequest     = "stream/request"
	TypeStop        = "stream/stop"
)

// Message is the top-level wrapper for all JSON protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// DecodePayload converts a generic payload into a concrete message struct
func DecodePayload(msg Message, v interface{}) error {
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", msg.Type, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", msg.Type, err)
	}
	return nil
}

// Request asks the producer for more blocks
type Request struct {
	BlocksNeeded int `json:"blocks_needed"`
}

// Delivery carries an ordered batch of blocks from producer to consumer
type Delivery struct {
	Resolution audio.Resolution
	Blocks     []audio.Block
	// Prime marks the unsolicited start-up batch
	Prime bool
}

// ClientHello is sent by the consumer to open a stream
type ClientHello struct {
	ClientID   string      `json:"client_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	SampleRate int         `json:"sample_rate"`
	Policy     PolicyState `json:"policy"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// PolicyState is the wire form of flow.Policy
type PolicyState struct {
	LowTide           int    `json:"low_tide"`
	HighTide          int    `json:"high_tide"`
	BufferRequestSize int    `json:"buffer_request_size"`
	Resolution        string `json:"resolution"`
	Channels          int    `json:"channels"`
	MaxOutstanding    int    `json:"max_outstanding,omitempty"`
}

// NewPolicyState converts a policy for the wire
func NewPolicyState(p flow.Policy) PolicyState {
	return PolicyState{
		LowTide:           p.LowTide,
		HighTide:          p.HighTide,
		BufferRequestSize: p.BufferRequestSize,
		Resolution:        p.Resolution.String(),
		Channels:          p.Channels,
		MaxOutstanding:    p.MaxOutstanding,
	}
}

// Policy converts the wire form back and validates it
func (s PolicyState) Policy() (flow.Policy, error) {
	res, err := audio.ParseResolution(s.Resolution)
	if err != nil {
		return flow.Policy{}, err
	}
	p := flow.Policy{
		LowTide:           s.LowTide,
		HighTide:          s.HighTide,
		BufferRequestSize: s.BufferRequestSize,
		Resolution:        res,
		Channels:          s.Channels,
		MaxOutstanding:    s.MaxOutstanding,
	}
	if err := p.Validate(); err != nil {
		return flow.Policy{}, err
	}
	return p, nil
}

// ServerHello is the producer's response to client/hello
type ServerHello struct {
	ServerID   string `json:"server_id"`
	Name       string `json:"name"`
	Version    int    `json:"version"`
	SampleRate int    `json:"sample_rate"`
	Source     string `json:"source,omitempty"`
}

// Stop ends a stream
type Stop struct {
	Reason string `json:"reason"` // "shutdown", "user_request"
}
