package transport

import "strings"

type option struct {
	unicast  bool
	protocol Protocol
	params   []Parameter
}

// Unicast builds an RTP/AVP unicast UDP option carrying params in order.
func Unicast(params ...Parameter) Option {
	return &option{unicast: true, protocol: ProtocolUDP, params: params}
}

func (o *option) Protocol() Protocol {
	return o.protocol
}

func (o *option) IsUnicast() bool {
	return o.unicast
}

func (o *option) Parameters() []Parameter {
	return o.params
}

func (o *option) ClientPort() (PortPair, bool) {
	for _, param := range o.params {
		if p, ok := param.(ClientPort); ok {
			return PortPair(p), true
		}
	}
	return PortPair{}, false
}

func (o *option) ServerPort() (PortPair, bool) {
	for _, param := range o.params {
		if p, ok := param.(ServerPort); ok {
			return PortPair(p), true
		}
	}
	return PortPair{}, false
}

func (o *option) String() string {
	segments := []string{"RTP/AVP"}
	if o.protocol == ProtocolTCP {
		segments[0] += "/TCP"
	}
	if o.unicast {
		segments = append(segments, "unicast")
	} else {
		segments = append(segments, "multicast")
	}

	for _, param := range o.params {
		segments = append(segments, param.String())
	}

	return strings.Join(segments, ";")
}
