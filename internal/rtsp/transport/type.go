package transport

import "errors"

type Protocol string

const (
	ProtocolUDP Protocol = "UDP"
	ProtocolTCP Protocol = "TCP"
)

var (
	ErrUnsupportedTransport = errors.New("unsupported transport")
	ErrMalformedTransport   = errors.New("malformed transport header")
)

type Option interface {
	IsUnicast() bool
	Protocol() Protocol
	Parameters() []Parameter
	ClientPort() (PortPair, bool)
	ServerPort() (PortPair, bool)
	String() string
}

type Parameter interface {
	String() string
}
