package pdtunnel

import "fmt"

// KeyKind tags the variant of a Key
type KeyKind int

const (
	// KeyKindTransport identifies the single pipe transport
	KeyKindTransport KeyKind = iota + 1

	// KeyKindServer identifies a TunnelServer by its local port
	KeyKindServer

	// KeyKindClient identifies a TunnelClient by its (local port, remote port) pair
	KeyKindClient
)

// Key is the logical identity of a Processor. Ports are kept as the text that
// travels on the wire; they are only parsed at socket boundaries.
type Key struct {
	Kind       KeyKind
	LocalPort  string
	RemotePort string
}

// TransportKey returns the key reserved for the pipe transport. It can never
// equal a server or client key.
func TransportKey() Key {
	return Key{Kind: KeyKindTransport}
}

// ServerKey returns the key of the TunnelServer listening on localPort
func ServerKey(localPort string) Key {
	return Key{Kind: KeyKindServer, LocalPort: localPort}
}

// ClientKey returns the key of the TunnelClient forwarding (localPort, remotePort)
func ClientKey(localPort, remotePort string) Key {
	return Key{Kind: KeyKindClient, LocalPort: localPort, RemotePort: remotePort}
}

func (k Key) String() string {
	switch k.Kind {
	case KeyKindTransport:
		return "transport"
	case KeyKindServer:
		return fmt.Sprintf("server(%s)", k.LocalPort)
	case KeyKindClient:
		return fmt.Sprintf("client(%s, %s)", k.LocalPort, k.RemotePort)
	}
	return fmt.Sprintf("key(%d, %q, %q)", int(k.Kind), k.LocalPort, k.RemotePort)
}
