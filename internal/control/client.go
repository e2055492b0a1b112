package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client sends commands to a running pipeline's control socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient builds a client for the given socket.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 10 * time.Second}
}

// Send delivers one command and waits for the response.
func (c *Client) Send(cmd Command) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("no pipeline is listening at %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// Status queries the running pipeline.
func (c *Client) Status() (*Response, error) {
	return c.Send(Command{Type: CmdStatus})
}

// Stop asks the running pipeline to finish its current cycle and exit.
func (c *Client) Stop(reason string) (*Response, error) {
	return c.Send(Command{Type: CmdStop, Reason: reason})
}
