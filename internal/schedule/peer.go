package schedule

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redbackup/backend/internal/wire"
)

// TCPPeer is a Peer reached over a plain TCP connection, one connection per
// exchange, matching the node request service's connection contract.
type TCPPeer struct {
	address string
	timeout time.Duration
}

// NewTCPPeer returns a Peer that dials address for every Send.
func NewTCPPeer(address string, timeout time.Duration) *TCPPeer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TCPPeer{address: address, timeout: timeout}
}

func (p *TCPPeer) Address() string { return p.address }

func (p *TCPPeer) Send(ctx context.Context, req wire.Message) (wire.Message, error) {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return wire.Message{}, fmt.Errorf("schedule: dial peer %s: %w", p.address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(p.timeout))
	}

	if err := wire.WriteMessage(conn, req); err != nil {
		return wire.Message{}, fmt.Errorf("schedule: write to peer %s: %w", p.address, err)
	}
	resp, err := wire.ReadMessage(conn)
	if err != nil {
		return wire.Message{}, fmt.Errorf("schedule: read from peer %s: %w", p.address, err)
	}
	return resp, nil
}
