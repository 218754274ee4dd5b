package transport

import (
	"fmt"
	"time"
)

// PortPair is an RTP port and its RTCP companion.
type PortPair [2]int

func (p PortPair) RTP() int {
	return p[0]
}

func (p PortPair) RTCP() int {
	return p[1]
}

func (p PortPair) String() string {
	return fmt.Sprintf("%d-%d", p[0], p[1])
}

type Destination string

func (p Destination) String() string {
	if p == "" {
		return "destination"
	}
	return "destination=" + string(p)
}

type Interleaved PortPair

func (p Interleaved) String() string {
	return "interleaved=" + PortPair(p).String()
}

type TTL time.Duration

func (p TTL) String() string {
	return fmt.Sprintf("ttl=%d", time.Duration(p)/time.Second)
}

type ClientPort PortPair

func (p ClientPort) String() string {
	return "client_port=" + PortPair(p).String()
}

type ServerPort PortPair

func (p ServerPort) String() string {
	return "server_port=" + PortPair(p).String()
}

type SSRC string

func (p SSRC) String() string {
	return "ssrc=" + string(p)
}

type Mode string

func (p Mode) String() string {
	return "mode=" + string(p)
}
