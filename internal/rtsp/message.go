package rtsp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	Version = "1.0"

	maxBodySize = 1 << 20
	// maxLineSize is the read buffer of a connection and so the longest
	// accepted start or header line.
	maxLineSize   = 8 << 10
	maxHeaderSize = 64 << 10
)

// wireKeys restores the customary spelling of headers that MIME
// canonicalisation mangles.
var wireKeys = map[string]string{
	"Cseq":             "CSeq",
	"Rtp-Info":         "RTP-Info",
	"Www-Authenticate": "WWW-Authenticate",
}

type Request struct {
	Version  string
	URL      string
	Sequence string
	Method   Method
	Header   http.Header
	Body     []byte
}

type Response struct {
	Version  string
	Code     int
	Message  string
	Sequence string
	Header   http.Header
	Body     []byte
}

// NewResponse returns a 200 OK echoing seq.
func NewResponse(seq string) *Response {
	return &Response{
		Version:  Version,
		Code:     http.StatusOK,
		Message:  http.StatusText(http.StatusOK),
		Sequence: seq,
		Header:   http.Header{},
	}
}

func (r *Request) Write(w io.Writer) error {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "%s %s RTSP/%s\r\n", r.Method, r.URL, r.Version)
	writeHeader(buf, r.Sequence, r.Header, r.Body)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write %s request: %w", r.Method, err)
	}
	return nil
}

func (r *Response) Write(w io.Writer) error {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "RTSP/%s %d %s\r\n", r.Version, r.Code, r.Message)
	writeHeader(buf, r.Sequence, r.Header, r.Body)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func writeHeader(buf *bytes.Buffer, seq string, header http.Header, body []byte) {
	fmt.Fprintf(buf, "CSeq: %s\r\n", seq)

	keys := make([]string, 0, len(header))
	for k := range header {
		switch http.CanonicalHeaderKey(k) {
		case "Cseq", "Content-Length":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := http.CanonicalHeaderKey(k)
		if fixed, ok := wireKeys[name]; ok {
			name = fixed
		}
		for _, v := range header[k] {
			fmt.Fprintf(buf, "%s: %s\r\n", name, v)
		}
	}
	if header.Get("Date") == "" {
		fmt.Fprintf(buf, "Date: %s\r\n", time.Now().UTC().Format(http.TimeFormat))
	}
	if len(body) > 0 {
		fmt.Fprintf(buf, "Content-Length: %d\r\n", len(body))
	}
	buf.WriteString("\r\n")
	buf.Write(body)
}

// ReadRequest reads one request. io.EOF is returned unwrapped when the peer
// closed the connection between messages.
func ReadRequest(br *bufio.Reader) (*Request, error) {
	line, header, body, err := readMessage(br)
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(line)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "RTSP/") {
		return nil, fmt.Errorf("%w: malformed request line %q", ErrProtocol, line)
	}

	return &Request{
		Method:   Method(strings.ToUpper(parts[0])),
		URL:      parts[1],
		Version:  strings.TrimPrefix(parts[2], "RTSP/"),
		Sequence: header.Get("CSeq"),
		Header:   header,
		Body:     body,
	}, nil
}

// ReadResponse reads one response.
func ReadResponse(br *bufio.Reader) (*Response, error) {
	line, header, body, err := readMessage(br)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "RTSP/") {
		return nil, fmt.Errorf("%w: malformed status line %q", ErrProtocol, line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse response code %q", ErrProtocol, parts[1])
	}
	res := &Response{
		Version:  strings.TrimPrefix(parts[0], "RTSP/"),
		Code:     code,
		Sequence: header.Get("CSeq"),
		Header:   header,
		Body:     body,
	}
	if len(parts) == 3 {
		res.Message = parts[2]
	}
	return res, nil
}

// readMessage returns the start line, the case insensitive header block that
// ends at the first blank line, and a body of Content-Length bytes.
func readMessage(br *bufio.Reader) (string, http.Header, []byte, error) {
	head, err := readHead(br)
	if err != nil {
		return "", nil, nil, err
	}

	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(head)))
	line, err := reader.ReadLine()
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: failed to read start line: %v", ErrProtocol, err)
	}
	mime, err := reader.ReadMIMEHeader()
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: failed to read headers: %v", ErrProtocol, err)
	}
	header := http.Header(mime)

	var body []byte
	if lengthHeader := header.Get("Content-Length"); lengthHeader != "" {
		length, err := strconv.Atoi(strings.TrimSpace(lengthHeader))
		if err != nil || length < 0 || length > maxBodySize {
			return "", nil, nil, fmt.Errorf("%w: invalid content-length %q", ErrProtocol, lengthHeader)
		}
		body = make([]byte, length)
		if _, err := io.ReadFull(br, body); err != nil {
			return "", nil, nil, fmt.Errorf("failed to read body: %w", err)
		}
	}

	return line, header, body, nil
}

// readHead returns the start line and headers up to and including the blank
// line that ends them. Blank lines in front of the start line are skipped.
// A line longer than the reader's buffer or a head over maxHeaderSize is a
// protocol violation.
func readHead(br *bufio.Reader) ([]byte, error) {
	var head bytes.Buffer
	for {
		line, err := br.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			return nil, fmt.Errorf("%w: line longer than %d bytes", ErrProtocol, br.Size())
		case err == io.EOF && head.Len() == 0 && len(bytes.TrimSpace(line)) == 0:
			return nil, io.EOF
		case err == io.EOF:
			return nil, fmt.Errorf("%w: message truncated: %v", ErrProtocol, io.ErrUnexpectedEOF)
		case err != nil:
			return nil, err
		}

		blank := len(bytes.TrimSpace(line)) == 0
		if blank && head.Len() == 0 {
			continue
		}
		if head.Len()+len(line) > maxHeaderSize {
			return nil, fmt.Errorf("%w: headers exceed %d bytes", ErrProtocol, maxHeaderSize)
		}
		head.Write(line)
		if blank {
			return head.Bytes(), nil
		}
	}
}

// SessionID strips parameters such as ";timeout=60" from a Session header.
func SessionID(header string) string {
	id, _, _ := strings.Cut(header, ";")
	return strings.TrimSpace(id)
}

// SessionTimeout returns the timeout parameter of a Session header.
func SessionTimeout(header string) (time.Duration, bool) {
	_, params, _ := strings.Cut(header, ";")
	for _, param := range strings.Split(params, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(name, "timeout") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}
