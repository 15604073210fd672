// SPDX-License-Identifier: MIT

// Package zmq carries spectrogram messages over ZeroMQ PUB/SUB. Each message
// is two frames: a JSON header and the raw little-endian float32 tensor.
package zmq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	applog "github.com/HSKCTA/Resonance/internal/log"
	"github.com/HSKCTA/Resonance/internal/transport"

	"github.com/go-zeromq/zmq4"
)

// DefaultHighWaterMark bounds the outbound queue so a slow subscriber costs
// at most a few stale tensors.
const DefaultHighWaterMark = 10

// Publisher binds a PUB socket and sends each message as one two-frame
// multipart message. It never retries; subscribers that are slow or absent
// simply miss messages.
type Publisher struct {
	endpoint string
	sock     zmq4.Socket
	cancel   context.CancelFunc

	mu     sync.Mutex // serialises SendMulti and Close
	closed bool

	sent   atomic.Uint64
	errors atomic.Uint64
}

// NewPublisher binds endpoint (e.g. "tcp://*:5555"). A highWaterMark of
// zero or less uses DefaultHighWaterMark.
func NewPublisher(ctx context.Context, endpoint string, highWaterMark int) (*Publisher, error) {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}

	ctx, cancel := context.WithCancel(ctx)
	sock := zmq4.NewPub(ctx)

	if err := sock.SetOption(zmq4.OptionHWM, highWaterMark); err != nil {
		applog.Warnf("ZMQPublisher: Could not set high-water mark %d: %v", highWaterMark, err)
	}

	bindAddr := normalizeEndpoint(endpoint)
	if err := sock.Listen(bindAddr); err != nil {
		cancel()
		sock.Close()
		return nil, fmt.Errorf("failed to bind publisher to %s: %w", endpoint, err)
	}

	applog.Infof("ZMQPublisher: Bound to %s (HWM %d)", bindAddr, highWaterMark)
	return &Publisher{
		endpoint: bindAddr,
		sock:     sock,
		cancel:   cancel,
	}, nil
}

// normalizeEndpoint rewrites the "all interfaces" wildcard into a form the
// Go listener accepts.
func normalizeEndpoint(endpoint string) string {
	if rest, ok := strings.CutPrefix(endpoint, "tcp://*:"); ok {
		return "tcp://0.0.0.0:" + rest
	}
	return endpoint
}

// DialEndpoint turns a bind endpoint into one a local subscriber can
// connect to, e.g. "tcp://*:5555" becomes "tcp://127.0.0.1:5555".
func DialEndpoint(endpoint string) string {
	for _, wildcard := range []string{"tcp://*:", "tcp://0.0.0.0:"} {
		if rest, ok := strings.CutPrefix(endpoint, wildcard); ok {
			return "tcp://127.0.0.1:" + rest
		}
	}
	return endpoint
}

// Publish encodes msg and hands both frames to the socket. The frames are
// freshly allocated because the socket may still hold them after return.
func (p *Publisher) Publish(msg transport.Message) error {
	header, payload, err := transport.EncodeMessage(msg)
	if err != nil {
		p.errors.Add(1)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.errors.Add(1)
		return transport.ErrClosed
	}

	if err := p.sock.SendMulti(zmq4.NewMsgFrom(header, payload)); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("failed to send message: %w", err)
	}
	p.sent.Add(1)
	return nil
}

// Endpoint returns the address the socket is bound to.
func (p *Publisher) Endpoint() string {
	if addr := p.sock.Addr(); addr != nil {
		return "tcp://" + addr.String()
	}
	return p.endpoint
}

// Sent returns the number of messages handed to the socket.
func (p *Publisher) Sent() uint64 { return p.sent.Load() }

// Errors returns the number of failed Publish calls.
func (p *Publisher) Errors() uint64 { return p.errors.Load() }

// Close closes the socket. Further Publish calls return an error.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	applog.Infof("ZMQPublisher: Closing %s (sent %d, errors %d)", p.endpoint, p.sent.Load(), p.errors.Load())
	err := p.sock.Close()
	p.cancel()
	return err
}

var _ transport.Publisher = (*Publisher)(nil)
