package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

const DefaultCameraPort = 554

var ErrInvalidAddress = errors.New("invalid camera url")

// Address is a parsed camera connection URL.
type Address struct {
	Scheme   string
	Login    string
	Password string
	Host     string
	Port     int
	Path     string
	// URL is the connection URL without credentials, used as request URI.
	URL string
}

// ParseAddress parses rtsp[s]://[login:password@]host[:port]/path.
func ParseAddress(raw string) (*Address, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: no host in %q", ErrInvalidAddress, redact(u))
	}

	address := &Address{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   DefaultCameraPort,
		Path:   u.EscapedPath(),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidAddress, p)
		}
		address.Port = port
	}
	if u.User != nil {
		address.Login = u.User.Username()
		address.Password, _ = u.User.Password()
	}

	clean := *u
	clean.User = nil
	address.URL = clean.String()
	return address, nil
}

// HostPort is the dial address of the camera control connection.
func (a *Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func redact(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	return u.Redacted()
}
