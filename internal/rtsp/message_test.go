package rtsp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestReadRequest(t *testing.T) {
	assert := assert.New(t)

	request, err := ReadRequest(reader("SETUP rtsp://10.0.0.2:4554/cam/track1 RTSP/1.0\r\n" +
		"cseq: 3\r\n" +
		"transport: RTP/AVP;unicast;client_port=5000-5001\r\n" +
		"\r\n"))
	require.NoError(t, err)

	assert.Equal(MethodSetup, request.Method)
	assert.Equal("rtsp://10.0.0.2:4554/cam/track1", request.URL)
	assert.Equal("1.0", request.Version)
	assert.Equal("3", request.Sequence)
	assert.Equal("RTP/AVP;unicast;client_port=5000-5001", request.Header.Get("Transport"))
	assert.Empty(request.Body)
}

func TestReadRequest_Pipelined(t *testing.T) {
	br := reader("\r\nOPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n" +
		"ANNOUNCE rtsp://h/cam RTSP/1.0\r\nCSeq: 2\r\nContent-Length: 4\r\n\r\nv=0\n")

	first, err := ReadRequest(br)
	require.NoError(t, err)
	assert.Equal(t, "1", first.Sequence)

	second, err := ReadRequest(br)
	require.NoError(t, err)
	assert.Equal(t, Method("ANNOUNCE"), second.Method)
	assert.Equal(t, []byte("v=0\n"), second.Body)

	_, err = ReadRequest(br)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReadRequest_Malformed(t *testing.T) {
	_, err := ReadRequest(reader("HELLO\r\nCSeq: 1\r\n\r\n"))
	assert.True(t, errors.Is(err, ErrProtocol))

	_, err = ReadRequest(reader("OPTIONS * HTTP/1.1\r\nCSeq: 1\r\n\r\n"))
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestReadRequest_Limits(t *testing.T) {
	long := "OPTIONS rtsp://cam/" + strings.Repeat("a", maxLineSize) + " RTSP/1.0\r\nCSeq: 1\r\n\r\n"
	_, err := ReadRequest(bufio.NewReaderSize(strings.NewReader(long), maxLineSize))
	assert.True(t, errors.Is(err, ErrProtocol))

	var b strings.Builder
	b.WriteString("OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n")
	for i := 0; b.Len() <= maxHeaderSize; i++ {
		fmt.Fprintf(&b, "X-Pad-%d: %s\r\n", i, strings.Repeat("p", 100))
	}
	b.WriteString("\r\n")
	_, err = ReadRequest(bufio.NewReaderSize(strings.NewReader(b.String()), maxLineSize))
	assert.True(t, errors.Is(err, ErrProtocol))

	// truncated head
	_, err = ReadRequest(reader("OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n"))
	assert.True(t, errors.Is(err, ErrProtocol))
	assert.False(t, errors.Is(err, io.EOF))
}

func TestReadResponse(t *testing.T) {
	assert := assert.New(t)

	res, err := ReadResponse(reader("RTSP/1.0 401 Unauthorized\r\n" +
		"CSeq: 2\r\n" +
		"WWW-Authenticate: Digest realm=\"cam\", nonce=\"abc\"\r\n" +
		"WWW-Authenticate: Basic realm=\"cam\"\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n" +
		"hello"))
	require.NoError(t, err)

	assert.Equal(401, res.Code)
	assert.Equal("Unauthorized", res.Message)
	assert.Equal("2", res.Sequence)
	assert.Len(res.Header.Values("www-authenticate"), 2)
	assert.Equal([]byte("hello"), res.Body)
}

func TestReadResponse_Malformed(t *testing.T) {
	assert := assert.New(t)

	for _, in := range []string{
		"garbage\r\n\r\n",
		"RTSP/1.0 abc OK\r\n\r\n",
		"RTSP/1.0 200 OK\r\nContent-Length: -1\r\n\r\n",
		"RTSP/1.0 200 OK\r\nContent-Length: nope\r\n\r\n",
	} {
		_, err := ReadResponse(reader(in))
		assert.True(errors.Is(err, ErrProtocol), in)
	}

	_, err := ReadResponse(reader("RTSP/1.0 200 OK\r\nContent-Length: 10\r\n\r\nshort"))
	assert.Error(err)
}

func TestResponse_Write(t *testing.T) {
	res := NewResponse("7")
	res.Header.Set("Date", "Mon, 19 Oct 2026 10:00:00 GMT")
	res.Header.Set("RTP-Info", "url=rtsp://h/cam/track1;seq=1;rtptime=2")
	res.Header.Set("Session", "abcdefghi")
	res.Body = []byte("v=0\r\n")

	buf := &bytes.Buffer{}
	require.NoError(t, res.Write(buf))

	assert.Equal(t, "RTSP/1.0 200 OK\r\n"+
		"CSeq: 7\r\n"+
		"Date: Mon, 19 Oct 2026 10:00:00 GMT\r\n"+
		"RTP-Info: url=rtsp://h/cam/track1;seq=1;rtptime=2\r\n"+
		"Session: abcdefghi\r\n"+
		"Content-Length: 5\r\n"+
		"\r\n"+
		"v=0\r\n", buf.String())
}

func TestRequest_WriteRead(t *testing.T) {
	request := &Request{
		Version:  Version,
		URL:      "rtsp://10.0.0.5:554/ch1",
		Sequence: "4",
		Method:   MethodPlay,
		Header: http.Header{
			"Session": []string{"12345678"},
			"Range":   []string{"npt=0.000-"},
		},
	}
	buf := &bytes.Buffer{}
	require.NoError(t, request.Write(buf))
	assert.True(t, strings.HasPrefix(buf.String(), "PLAY rtsp://10.0.0.5:554/ch1 RTSP/1.0\r\nCSeq: 4\r\n"))

	read, err := ReadRequest(bufio.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, "12345678", read.Header.Get("Session"))
	assert.Equal(t, "npt=0.000-", read.Header.Get("Range"))
}

func TestSessionHeader(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("66334873", SessionID("66334873;timeout=60"))
	assert.Equal("66334873", SessionID(" 66334873 "))
	assert.Equal("", SessionID(""))

	timeout, ok := SessionTimeout("66334873;timeout=60")
	assert.True(ok)
	assert.Equal(time.Minute, timeout)

	_, ok = SessionTimeout("66334873")
	assert.False(ok)
	_, ok = SessionTimeout("66334873;timeout=zero")
	assert.False(ok)
}

func TestPublicHeader(t *testing.T) {
	public := PublicHeader(serverMethods...)
	assert.Equal(t, "OPTIONS, DESCRIBE, SETUP, TEARDOWN, PLAY, GET_PARAMETER", public)
	assert.True(t, HasMethod("OPTIONS, DESCRIBE, GET_PARAMETER", MethodGetParameter))
	assert.True(t, HasMethod("OPTIONS DESCRIBE SETUP", MethodSetup))
	assert.False(t, HasMethod("OPTIONS, DESCRIBE", MethodGetParameter))
}
