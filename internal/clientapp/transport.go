package clientapp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redbackup/backend/internal/wire"
)

// NodeClient sends one request and reads back the matching response, one
// connection per exchange, matching the node request service's contract.
type NodeClient interface {
	Send(ctx context.Context, req wire.Message) (wire.Message, error)
}

// TCPNodeClient dials addr fresh for every Send.
type TCPNodeClient struct {
	addr    string
	timeout time.Duration
}

// NewTCPNodeClient returns a NodeClient that connects to addr (host:port).
func NewTCPNodeClient(addr string, timeout time.Duration) *TCPNodeClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TCPNodeClient{addr: addr, timeout: timeout}
}

func (c *TCPNodeClient) Send(ctx context.Context, req wire.Message) (wire.Message, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return wire.Message{}, fmt.Errorf("clientapp: connect to %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := wire.WriteMessage(conn, req); err != nil {
		return wire.Message{}, fmt.Errorf("clientapp: send to %s: %w", c.addr, err)
	}
	resp, err := wire.ReadMessage(conn)
	if err != nil {
		return wire.Message{}, fmt.Errorf("clientapp: receive from %s: %w", c.addr, err)
	}
	return resp, nil
}
