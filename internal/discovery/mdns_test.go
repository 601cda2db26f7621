// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers manager setup, TXT records and parsing of discovered entries
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Test Server", Port: 8937, ServerMode: true})
	defer mgr.Stop()

	if mgr.serviceType() != ServerService {
		t.Errorf("expected %s, got %s", ServerService, mgr.serviceType())
	}
	if mgr.Servers() == nil {
		t.Error("servers channel should not be nil")
	}
}

func TestPlayerModeServiceType(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Kitchen", Port: 8938})
	defer mgr.Stop()

	if mgr.serviceType() != PlayerService {
		t.Errorf("expected %s, got %s", PlayerService, mgr.serviceType())
	}
}

func TestTXTRecords(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Test", Port: 1, ServerMode: true, SampleRate: 48000, Channels: 2})
	defer mgr.Stop()

	txt := mgr.txtRecords()
	expected := []string{"path=/tidepool", "sample_rate=48000", "channels=2"}
	if len(txt) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, txt)
	}
	for i := range expected {
		if txt[i] != expected[i] {
			t.Errorf("record %d: expected %q, got %q", i, expected[i], txt[i])
		}
	}
}

func TestParseEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "Living Room." + ServerService + ".local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       8937,
		InfoFields: []string{"path=/tidepool", "sample_rate=44100", "channels=1", "junk"},
	}

	info := parseEntry(entry)
	if info == nil {
		t.Fatal("expected entry to parse")
	}
	if info.Name != "Living Room" {
		t.Errorf("expected name 'Living Room', got %q", info.Name)
	}
	if info.Addr() != "192.168.1.20:8937" {
		t.Errorf("unexpected addr %s", info.Addr())
	}
	if info.SampleRate != 44100 || info.Channels != 1 {
		t.Errorf("unexpected format %d/%d", info.SampleRate, info.Channels)
	}
}

func TestParseEntrySkipsMissingAddress(t *testing.T) {
	if parseEntry(&mdns.ServiceEntry{Name: "x", Port: 1}) != nil {
		t.Error("expected entry without IPv4 address to be skipped")
	}
}
