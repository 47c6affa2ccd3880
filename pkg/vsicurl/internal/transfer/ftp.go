package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// ftpBackend performs one "hop" of an FTP transfer. FTP has no redirects,
// so every fetch is terminal: the engine's redirect loop runs at most once
// per Run call against this backend.
type ftpBackend struct {
	dialTimeout time.Duration
}

// NewFTP returns an Engine backed by github.com/jlaffaye/ftp.
func NewFTP() *Engine {
	return newEngine(&ftpBackend{dialTimeout: 15 * time.Second})
}

func (b *ftpBackend) fetch(ctx context.Context, rawURL, method string, stopAfterHeaders bool) (*response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("transfer: parse ftp url: %w", err)
	}

	addr := u.Host
	if !strings.Contains(addr, ":") {
		addr += ":21"
	}
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(b.dialTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("transfer: ftp dial %q: %w", addr, err)
	}

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("transfer: ftp login: %w", err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	header := textproto.MIMEHeader{}
	if size, err := conn.FileSize(path); err == nil {
		header.Set("Content-Length", strconv.FormatInt(size, 10))
	}

	if stopAfterHeaders {
		_ = conn.Quit()
		return &response{
			statusLine: "HTTP/1.1 200 OK",
			header:     header,
		}, nil
	}

	r, err := conn.Retr(path)
	if err != nil {
		_ = conn.Quit()
		if notFound(err) {
			return &response{statusLine: "HTTP/1.1 404 Not Found", header: header}, nil
		}
		return nil, fmt.Errorf("transfer: ftp retr %q: %w", path, err)
	}

	return &response{
		statusLine: "HTTP/1.1 200 OK",
		header:     header,
		body:       &ftpRetrCloser{resp: r, conn: conn},
	}, nil
}

// ftpRetrCloser wraps an *ftp.Response so closing it also quits the
// control connection, since jlaffaye/ftp ties one connection to one
// transfer.
type ftpRetrCloser struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (c *ftpRetrCloser) Read(p []byte) (int, error) {
	return c.resp.Read(p)
}

func (c *ftpRetrCloser) Close() error {
	err := c.resp.Close()
	_ = c.conn.Quit()
	return err
}

// notFound reports whether err looks like an FTP "550 No such file" style
// failure, per the 5xx permanent-failure codes in RFC 959.
func notFound(err error) bool {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return proto.Code >= 550 && proto.Code < 560
	}
	return strings.Contains(err.Error(), "550")
}
