// SPDX-License-Identifier: MIT
package udp

import (
	"fmt"
	"sync"
	"time"

	applog "github.com/HSKCTA/Resonance/internal/log"
	"github.com/HSKCTA/Resonance/internal/transport"
)

// UDPPublisher sends the most recent spectral frame at a fixed interval. It
// is a lightweight live feed for visualisers; the full tensor goes over the
// pub/sub transport. Frames that arrive between ticks replace each other and
// a tick with no new frame sends nothing.
type UDPPublisher struct {
	sender   *UDPSender    // The underlying UDP sender instance.
	interval time.Duration // The interval at which packets are sent.
	now      func() time.Time

	ticker   *time.Ticker   // Ticker that triggers packet sending.
	doneChan chan struct{}  // Channel used to signal the publisher goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine to finish during Stop.
	mu       sync.Mutex     // Protects access to ticker and doneChan during Start/Stop.

	frameMu   sync.Mutex
	latest    []float32 // Written by UpdateFrame.
	version   uint64    // Incremented by UpdateFrame.
	sentVer   uint64    // Version of the last frame sent.
	sendFrame []float32 // Copy taken under frameMu for packing.
}

// NewUDPPublisher creates a publisher for frames of frameLen values. If the
// provided interval is invalid (<= 0), it defaults to 16ms (~60Hz).
func NewUDPPublisher(interval time.Duration, sender *UDPSender, frameLen int) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if frameLen <= 0 || frameLen > maxPayloadFloats {
		return nil, fmt.Errorf("UDPPublisher: frame length %d must be in [1, %d]", frameLen, maxPayloadFloats)
	}

	if interval <= 0 {
		interval = 16 * time.Millisecond
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}

	applog.Infof("UDPPublisher: Initializing (Interval: %s, Bins: %d)", interval, frameLen)

	return &UDPPublisher{
		sender:    sender,
		interval:  interval,
		now:       time.Now,
		latest:    make([]float32, frameLen),
		sendFrame: make([]float32, frameLen),
	}, nil
}

// UpdateFrame implements transport.FrameSink. Frames of the wrong length
// are ignored.
func (p *UDPPublisher) UpdateFrame(frame []float32) {
	p.frameMu.Lock()
	if len(frame) == len(p.latest) {
		copy(p.latest, frame)
		p.version++
	}
	p.frameMu.Unlock()
}

// Start begins the periodic publishing process. It is safe to call Start
// multiple times; subsequent calls are no-ops if already started.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Capture local variables for the goroutine to avoid data races on p.ticker/p.doneChan
	ticker := p.ticker
	doneChan := p.doneChan

	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("UDPPublisher: Publisher goroutine started (Interval: %s, Target: %s)", p.interval, p.sender.Target())
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to
// exit. It is safe to call Stop multiple times.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		applog.Debugf("UDPPublisher: Initiating stop sequence...")
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})

	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("UDPPublisher: Publisher goroutine finished.")
	return nil
}

// buildAndSendPacket sends the latest frame if it changed since the last
// tick. Send errors are logged by the sender and otherwise ignored.
func (p *UDPPublisher) buildAndSendPacket() {
	p.frameMu.Lock()
	if p.version == p.sentVer {
		p.frameMu.Unlock()
		return
	}
	p.sentVer = p.version
	copy(p.sendFrame, p.latest)
	p.frameMu.Unlock()

	if seq, err := p.sender.SendFrame(p.now(), p.sendFrame); err == nil {
		applog.Debugf("UDPPublisher: Sent frame %d (%d bins)", seq, len(p.sendFrame))
	}
}

// Close implements the io.Closer interface. It stops the publisher goroutine
// and closes the sender.
func (p *UDPPublisher) Close() error {
	if err := p.Stop(); err != nil {
		return err
	}
	return p.sender.Close()
}

// Ensure UDPPublisher satisfies the interfaces at compile time.
var (
	_ transport.FrameSink        = (*UDPPublisher)(nil)
	_ interface{ Close() error } = (*UDPPublisher)(nil)
)
