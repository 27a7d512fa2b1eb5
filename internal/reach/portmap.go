package reach

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// PortMapper opens an inbound TCP port on the local gateway via
// NAT-PMP, falling back to UPnP, adapted from the teacher's
// NATManager.
type PortMapper struct {
	externalIP net.IP
	pmp        *natpmp.Client
	upnp       *internetgateway1.WANIPConnection1
	mappedPort int
}

// NewPortMapper discovers the gateway and its external IP address.
func NewPortMapper() (*PortMapper, error) {
	m := &PortMapper{}
	if gw, err := gateway.DiscoverGateway(); err == nil {
		m.pmp = natpmp.NewClient(gw)
		if res, err := m.pmp.GetExternalAddress(); err == nil {
			m.externalIP = net.IPv4(res.ExternalIPAddress[0], res.ExternalIPAddress[1], res.ExternalIPAddress[2], res.ExternalIPAddress[3])
		}
	}
	if m.externalIP == nil {
		if clients, _, err := internetgateway1.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
			m.upnp = clients[0]
			if ipStr, err := m.upnp.GetExternalIPAddress(); err == nil {
				m.externalIP = net.ParseIP(ipStr)
			}
		}
	}
	if m.externalIP == nil {
		return nil, fmt.Errorf("reach: no NAT-PMP or UPnP gateway found")
	}
	return m, nil
}

// ExternalIP returns the gateway-reported public address.
func (m *PortMapper) ExternalIP() net.IP { return m.externalIP }

// Map requests a TCP port mapping for port with a 3600s lease (the
// lease the teacher requests). Nothing renews the mapping: NewReacher
// requests it once at start-up.
func (m *PortMapper) Map(port int) error {
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", port, port, 3600); err == nil {
			m.mappedPort = port
			return nil
		}
	}
	if m.upnp != nil {
		if err := m.upnp.AddPortMapping("", uint16(port), "TCP", uint16(port), m.externalIP.String(), true, "chiral-network", 3600); err == nil {
			m.mappedPort = port
			return nil
		}
	}
	return fmt.Errorf("reach: port mapping failed")
}

// Unmap releases a previously established mapping.
func (m *PortMapper) Unmap() error {
	if m.mappedPort == 0 {
		return nil
	}
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", m.mappedPort, m.mappedPort, 0); err != nil {
			return err
		}
		m.mappedPort = 0
		return nil
	}
	if m.upnp != nil {
		if err := m.upnp.DeletePortMapping("", uint16(m.mappedPort), "TCP"); err != nil {
			return err
		}
		m.mappedPort = 0
	}
	return nil
}

// tcpPortOf extracts the TCP port number from a libp2p multiaddr
// string such as "/ip4/0.0.0.0/tcp/4001".
func tcpPortOf(addr string) (int, error) {
	parts := strings.Split(addr, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "tcp" {
			return strconv.Atoi(parts[i+1])
		}
	}
	return 0, fmt.Errorf("reach: no tcp port in %q", addr)
}
