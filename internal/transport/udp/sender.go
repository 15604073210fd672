// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	applog "github.com/HSKCTA/Resonance/internal/log"
)

/*
Frame Packet Structure (BigEndian)

|<---- 4 Bytes ---->|<------ 8 Bytes ------>|<-- 2 Bytes -->|<----- N * 4 Bytes ----->|
+-------------------+-----------------------+---------------+-------------------------+
|  Sequence Number  |       Timestamp       |   Bin Count   |      Log Magnitudes     |
|      (uint32)     |  (int64, ns since     |    (uint16)   |      (N * float32)      |
|                   |        epoch)         |               |                         |
+-------------------+-----------------------+---------------+-------------------------+
*/
const headerSize = 4 + 8 + 2

// maxPayloadFloats keeps a packet inside a single UDP datagram.
const maxPayloadFloats = (65507 - headerSize) / 4

// ErrSenderClosed is returned by SendFrame after Close.
var ErrSenderClosed = errors.New("UDP sender is closed")

// UDPSender writes spectral frames to one target, one frame per datagram,
// numbering them from 1.
type UDPSender struct {
	target *net.UDPAddr

	mu     sync.Mutex // guards everything below
	conn   *net.UDPConn
	closed bool
	seq    uint32
	buf    []byte // packet scratch, reused across frames
}

// NewUDPSender dials targetAddress ("host:port").
func NewUDPSender(targetAddress string) (*UDPSender, error) {
	addr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", targetAddress, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", targetAddress, err)
	}

	applog.Infof("UDPSender: Sending frames to %s", conn.RemoteAddr())
	return &UDPSender{target: addr, conn: conn}, nil
}

// appendFramePacket appends one packet in the layout above.
func appendFramePacket(dst []byte, seq uint32, at time.Time, frame []float32) []byte {
	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(at.UnixNano()))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(frame)))
	for _, v := range frame {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

// SendFrame packs frame with the next sequence number and the capture time
// at, and writes it as a single datagram. It returns the sequence number
// used. A failed write still consumes the number, so receivers see the gap.
func (s *UDPSender) SendFrame(at time.Time, frame []float32) (uint32, error) {
	if len(frame) > maxPayloadFloats {
		return 0, fmt.Errorf("frame of %d values exceeds %d per datagram", len(frame), maxPayloadFloats)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSenderClosed
	}

	s.seq++
	s.buf = appendFramePacket(s.buf[:0], s.seq, at, frame)
	if _, err := s.conn.Write(s.buf); err != nil {
		applog.Debugf("UDPSender: Frame %d not sent: %v", s.seq, err)
		return s.seq, fmt.Errorf("failed to send UDP packet: %w", err)
	}
	return s.seq, nil
}

// Target returns the resolved destination address.
func (s *UDPSender) Target() *net.UDPAddr {
	return s.target
}

// Close closes the connection. Further calls are no-ops.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	applog.Infof("UDPSender: Closing connection to %s after %d frames", s.target, s.seq)
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close UDP connection: %w", err)
	}
	return nil
}
