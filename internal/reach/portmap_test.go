package reach

import "testing"

func TestTCPPortOfExtractsPort(t *testing.T) {
	port, err := tcpPortOf("/ip4/0.0.0.0/tcp/4001")
	if err != nil {
		t.Fatalf("tcpPortOf: %v", err)
	}
	if port != 4001 {
		t.Fatalf("got %d, want 4001", port)
	}
}

func TestTCPPortOfRejectsAddrWithoutTCP(t *testing.T) {
	if _, err := tcpPortOf("/ip4/0.0.0.0/udp/4001/quic"); err == nil {
		t.Fatal("expected an error for an address with no tcp component")
	}
}

func TestTCPPortOfRejectsTrailingTCPWithNoPort(t *testing.T) {
	if _, err := tcpPortOf("/ip4/0.0.0.0/tcp"); err == nil {
		t.Fatal("expected an error when tcp has no following port segment")
	}
}
