package rtsp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Client issues requests over one camera control connection. Requests are
// serialised; each one takes the next CSeq whether or not it succeeds.
type Client struct {
	sync.Mutex
	conn      net.Conn
	br        *bufio.Reader
	seq       int
	auth      *Digest
	userAgent string
}

func NewClient(nc net.Conn, userAgent string) *Client {
	return &Client{
		conn:      nc,
		br:        bufio.NewReaderSize(nc, maxLineSize),
		userAgent: userAgent,
	}
}

// SetAuth makes every following request carry an Authorization header.
func (c *Client) SetAuth(d *Digest) {
	c.Lock()
	defer c.Unlock()
	c.auth = d
}

// Do sends request and reads its response. Cancelling ctx interrupts the
// blocked I/O.
func (c *Client) Do(ctx context.Context, method Method, url string, header http.Header) (*Response, error) {
	c.Lock()
	defer c.Unlock()

	// a cancelled earlier request leaves its deadline behind
	_ = c.conn.SetDeadline(time.Time{})

	c.seq++
	if header == nil {
		header = http.Header{}
	}
	if c.auth != nil {
		header.Set("Authorization", c.auth.Header(method, url))
	}
	if c.userAgent != "" {
		header.Set("User-Agent", c.userAgent)
	}
	request := &Request{
		Version:  Version,
		URL:      url,
		Sequence: strconv.Itoa(c.seq),
		Method:   method,
		Header:   header,
	}

	stop := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-ctx.Done():
			_ = c.conn.SetDeadline(time.Now())
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-watcher
	}()

	if err := request.Write(c.conn); err != nil {
		return nil, contextError(ctx, err)
	}

	res, err := ReadResponse(c.br)
	if err != nil {
		return nil, contextError(ctx, fmt.Errorf("failed to read %s response: %w", method, err))
	}
	if res.Sequence != "" && res.Sequence != request.Sequence {
		return nil, fmt.Errorf("%w: %s response CSeq %s, expected %s", ErrProtocol, method, res.Sequence, request.Sequence)
	}
	return res, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%v: %w", err, ctx.Err())
	}
	return err
}
