package transport

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse splits a Transport header value into its comma separated options.
func Parse(header string) ([]Option, error) {
	var opts []Option
	for _, in := range strings.Split(header, ",") {
		in = strings.TrimSpace(in)
		if in == "" {
			continue
		}
		o, err := parseOption(in)
		if err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	if len(opts) == 0 {
		return nil, fmt.Errorf("%w: no transport options", ErrMalformedTransport)
	}

	return opts, nil
}

func parseOption(in string) (Option, error) {
	parts := strings.Split(in, ";")
	opt := &option{}
	switch strings.ToUpper(parts[0]) {
	case "RTP/AVP", "RTP/AVP/UDP":
		opt.protocol = ProtocolUDP
	case "RTP/AVP/TCP":
		opt.protocol = ProtocolTCP
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransport, parts[0])
	}

	for _, part := range parts[1:] {
		name, value, hasValue := strings.Cut(strings.TrimSpace(part), "=")
		switch name {
		case "unicast":
			opt.unicast = true
		case "multicast", "":
			continue
		case "append":
			continue
		case "destination":
			opt.params = append(opt.params, Destination(value))
		case "interleaved":
			pair, err := parsePortPair(name, value, hasValue)
			if err != nil {
				return nil, err
			}
			opt.params = append(opt.params, Interleaved(pair))
		case "ttl":
			seconds, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to parse ttl value: %v", ErrMalformedTransport, err)
			}
			opt.params = append(opt.params, TTL(time.Second*time.Duration(seconds)))
		case "client_port":
			pair, err := parsePortPair(name, value, hasValue)
			if err != nil {
				return nil, err
			}
			opt.params = append(opt.params, ClientPort(pair))
		case "server_port":
			pair, err := parsePortPair(name, value, hasValue)
			if err != nil {
				return nil, err
			}
			opt.params = append(opt.params, ServerPort(pair))
		case "ssrc":
			opt.params = append(opt.params, SSRC(value))
		case "mode":
			opt.params = append(opt.params, Mode(strings.Trim(value, `"`)))
		default:
			// unknown parameters are ignored, clients add vendor extensions here
			continue
		}
	}
	return opt, nil
}

// parsePortPair accepts "a-b" or a lone "a", which implies a+1 for RTCP.
func parsePortPair(name, value string, hasValue bool) (PortPair, error) {
	if !hasValue || value == "" {
		return PortPair{}, fmt.Errorf("%w: parameter %s expects at least one port", ErrMalformedTransport, name)
	}
	lo, hi, ranged := strings.Cut(value, "-")
	first, err := parsePort(lo)
	if err != nil {
		return PortPair{}, fmt.Errorf("%w: failed to parse %s, received %s: %v", ErrMalformedTransport, name, value, err)
	}
	if !ranged {
		return PortPair{first, first + 1}, nil
	}
	second, err := parsePort(hi)
	if err != nil {
		return PortPair{}, fmt.Errorf("%w: failed to parse %s, received %s: %v", ErrMalformedTransport, name, value, err)
	}
	return PortPair{first, second}, nil
}

func parsePort(in string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(in))
	if err != nil {
		return 0, err
	}
	if p < 0 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range", p)
	}
	return p, nil
}
