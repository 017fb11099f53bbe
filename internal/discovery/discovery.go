// Package discovery advertises a running server on the local network over
// mDNS and finds advertised servers.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_syncboard._tcp"

// Advertiser answers mDNS queries for one server instance.
type Advertiser struct {
	server *mdns.Server
	logger *slog.Logger
}

// NewService builds the mDNS records for a server listening on port. An
// empty host uses the OS hostname; nil ips are resolved from the host.
func NewService(instance, host string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	if instance == "" {
		instance = "syncboard"
	}
	if host != "" && !strings.HasSuffix(host, ".") {
		host += "."
	}
	if len(ips) == 0 && host == "" {
		ips = []net.IP{firstIPv4()}
	}

	info := []string{"syncboard", "path=/ws"}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", host, port, ips, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}

// Advertise starts answering for instance on port until Shutdown.
func Advertise(instance string, port int, logger *slog.Logger) (*Advertiser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	service, err := NewService(instance, host, port, []net.IP{firstIPv4()})
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}

	logger = logger.With("component", "discovery")
	logger.Info("advertising over mDNS", "instance", instance, "service", ServiceType, "port", port)
	return &Advertiser{server: server, logger: logger}, nil
}

func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	a.logger.Info("mDNS advertisement stopped")
	return a.server.Shutdown()
}

// Entry is one discovered server.
type Entry struct {
	Instance string
	Addr     string
}

// URL is the server's base HTTP URL.
func (e Entry) URL() string {
	return "http://" + e.Addr
}

// Browse queries the network for timeout and reports every server found.
func Browse(timeout time.Duration) ([]Entry, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	var found []Entry
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if entry, ok := toEntry(e); ok {
				found = append(found, entry)
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("mDNS query: %w", err)
	}
	return found, nil
}

func toEntry(e *mdns.ServiceEntry) (Entry, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Entry{}, false
	}
	return Entry{
		Instance: e.Name,
		Addr:     net.JoinHostPort(e.AddrV4.String(), fmt.Sprint(e.Port)),
	}, true
}

func firstIPv4() net.IP {
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		// Ignore loopback and down interfaces
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.To4()
			}
		}
	}
	return net.IPv4(127, 0, 0, 1)
}
