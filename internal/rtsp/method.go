package rtsp

import "strings"

type Method string

const (
	MethodOptions      Method = "OPTIONS"
	MethodSetup        Method = "SETUP"
	MethodTeardown     Method = "TEARDOWN"
	MethodDescribe     Method = "DESCRIBE"
	MethodPlay         Method = "PLAY"
	MethodGetParameter Method = "GET_PARAMETER"
)

// serverMethods are answered by the viewer facing server, in Public order.
var serverMethods = []Method{
	MethodOptions,
	MethodDescribe,
	MethodSetup,
	MethodTeardown,
	MethodPlay,
	MethodGetParameter,
}

func (m Method) String() string {
	return string(m)
}

// PublicHeader renders methods as a Public header value.
func PublicHeader(methods ...Method) string {
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = m.String()
	}
	return strings.Join(names, ", ")
}

// HasMethod reports whether a Public header value lists m.
func HasMethod(public string, m Method) bool {
	for _, name := range strings.FieldsFunc(public, func(r rune) bool {
		return r == ',' || r == ' '
	}) {
		if strings.EqualFold(name, m.String()) {
			return true
		}
	}
	return false
}
