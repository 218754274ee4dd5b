package rtsp

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Digest computes RTSP Digest Authorization values (RFC 2617 without qop).
type Digest struct {
	Username string
	Password string
	Realm    string
	Nonce    string
}

// ParseChallenge extracts realm and nonce from the Digest challenge among
// the WWW-Authenticate values a camera returned.
func ParseChallenge(values []string) (realm, nonce string, err error) {
	for _, value := range values {
		scheme, params, _ := strings.Cut(strings.TrimSpace(value), " ")
		if !strings.EqualFold(scheme, "Digest") {
			continue
		}
		for _, param := range splitParams(params) {
			name, v, ok := strings.Cut(param, "=")
			if !ok {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "realm":
				realm = strings.Trim(strings.TrimSpace(v), `"`)
			case "nonce":
				nonce = strings.Trim(strings.TrimSpace(v), `"`)
			}
		}
		if realm != "" && nonce != "" {
			return realm, nonce, nil
		}
	}
	return "", "", fmt.Errorf("%w: invalid digest auth challenge", ErrProtocol)
}

// splitParams splits on commas outside quoted strings.
func splitParams(in string) []string {
	var (
		out    []string
		quoted bool
		start  int
	)
	for i, r := range in {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			out = append(out, strings.TrimSpace(in[start:i]))
			start = i + 1
		}
	}
	return append(out, strings.TrimSpace(in[start:]))
}

// Response is MD5(MD5(user:realm:password):nonce:MD5(method:uri)) in hex.
func (d *Digest) Response(method Method, uri string) string {
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", d.Username, d.Realm, d.Password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))
	return md5Hex(fmt.Sprintf("%s:%s:%s", ha1, d.Nonce, ha2))
}

// Header renders the Authorization header value for one request.
func (d *Digest) Header(method Method, uri string) string {
	return fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		d.Username, d.Realm, d.Nonce, uri, d.Response(method, uri),
	)
}

func md5Hex(in string) string {
	sum := md5.Sum([]byte(in))
	return hex.EncodeToString(sum[:])
}
