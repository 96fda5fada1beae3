package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// dialTimeout bounds how long Dial waits for the daemon's Unix socket to
// accept a connection.
const dialTimeout = 2 * time.Second

// Client is a thin, synchronous request/response client over the daemon's
// Unix socket transport (spec.md §6). One Client serves one connection;
// callers needing concurrent requests should dial more than one.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the daemon listening at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes req as one line and reads back the matching response line.
func (c *Client) Send(req Request) (Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: marshal request: %w", err)
	}
	if err := c.conn.SetDeadline(time.Now().Add(requestTimeout)); err != nil {
		return Response{}, fmt.Errorf("ipc: set deadline: %w", err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return Response{}, fmt.Errorf("ipc: write request: %w", err)
	}

	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("ipc: read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("ipc: decode response: %w", err)
	}
	return resp, nil
}

// SendJSON marshals payload, sends a request of the given type, and decodes
// the response payload into out (if non-nil and the response is not an
// Error). Returns the raw response so callers can branch on Type when a
// request has more than one success variant (e.g. BlameResult vs
// BlameNotFound).
func (c *Client) SendJSON(reqType string, payload any, out any) (Response, error) {
	var raw []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Response{}, fmt.Errorf("ipc: marshal payload: %w", err)
		}
		raw = data
	}
	resp, err := c.Send(Request{Type: reqType, Payload: raw})
	if err != nil {
		return resp, err
	}
	if resp.Type == TypeError {
		var msg string
		_ = json.Unmarshal(resp.Payload, &msg)
		return resp, fmt.Errorf("ipc: %s", msg)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Payload, out); err != nil {
			return resp, fmt.Errorf("ipc: decode %s payload: %w", resp.Type, err)
		}
	}
	return resp, nil
}
