// SPDX-License-Identifier: MIT
package zmq

import (
	"context"
	"fmt"

	applog "github.com/HSKCTA/Resonance/internal/log"
	"github.com/HSKCTA/Resonance/internal/transport"

	"github.com/go-zeromq/zmq4"
)

// Subscriber connects a SUB socket to a publisher and decodes its messages.
type Subscriber struct {
	endpoint string
	sock     zmq4.Socket
	cancel   context.CancelFunc
}

// NewSubscriber connects to endpoint and subscribes to every message.
// Cancelling ctx unblocks a pending Receive.
func NewSubscriber(ctx context.Context, endpoint string) (*Subscriber, error) {
	ctx, cancel := context.WithCancel(ctx)
	sock := zmq4.NewSub(ctx)

	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		cancel()
		sock.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := sock.Dial(endpoint); err != nil {
		cancel()
		sock.Close()
		return nil, fmt.Errorf("failed to connect subscriber to %s: %w", endpoint, err)
	}

	applog.Infof("ZMQSubscriber: Connected to %s", endpoint)
	return &Subscriber{endpoint: endpoint, sock: sock, cancel: cancel}, nil
}

// Receive blocks until the next message arrives and decodes it. Malformed
// messages are returned as errors; the caller decides whether to continue.
func (s *Subscriber) Receive() (transport.Message, error) {
	raw, err := s.sock.Recv()
	if err != nil {
		return transport.Message{}, fmt.Errorf("failed to receive: %w", err)
	}
	return transport.DecodeMessage(raw.Frames)
}

// Close disconnects the socket.
func (s *Subscriber) Close() error {
	s.cancel()
	return s.sock.Close()
}
