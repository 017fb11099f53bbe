package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestNewService(t *testing.T) {
	ip := net.IPv4(192, 168, 1, 20)
	service, err := NewService("studio", "board-host", 8080, []net.IP{ip})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if service.Instance != "studio" {
		t.Errorf("expected instance studio, got %q", service.Instance)
	}
	if service.Service != ServiceType {
		t.Errorf("expected service %s, got %q", ServiceType, service.Service)
	}
	if service.HostName != "board-host." {
		t.Errorf("expected fully qualified host, got %q", service.HostName)
	}
	if service.Port != 8080 {
		t.Errorf("expected port 8080, got %d", service.Port)
	}
	if len(service.IPs) != 1 || !service.IPs[0].Equal(ip) {
		t.Errorf("expected ips [%s], got %v", ip, service.IPs)
	}
}

func TestNewServiceDefaultsInstance(t *testing.T) {
	service, err := NewService("", "board-host.", 9000, []net.IP{net.IPv4(10, 0, 0, 2)})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if service.Instance != "syncboard" {
		t.Errorf("expected default instance, got %q", service.Instance)
	}
}

func TestToEntry(t *testing.T) {
	if _, ok := toEntry(&mdns.ServiceEntry{Name: "x", Port: 80}); ok {
		t.Error("entries without an IPv4 address should be skipped")
	}
	if _, ok := toEntry(&mdns.ServiceEntry{Name: "x", AddrV4: net.IPv4(10, 0, 0, 1)}); ok {
		t.Error("entries without a port should be skipped")
	}

	entry, ok := toEntry(&mdns.ServiceEntry{Name: "studio", AddrV4: net.IPv4(10, 0, 0, 1), Port: 8080})
	if !ok {
		t.Fatal("expected a usable entry")
	}
	if entry.URL() != "http://10.0.0.1:8080" {
		t.Errorf("unexpected url %s", entry.URL())
	}
}

func TestShutdownNilAdvertiser(t *testing.T) {
	var a *Advertiser
	if err := a.Shutdown(); err != nil {
		t.Errorf("nil advertiser shutdown should be a no-op, got %v", err)
	}
}
