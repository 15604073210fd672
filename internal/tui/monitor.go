// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/HSKCTA/Resonance/internal/transport"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// defaultHistory is the number of RMS readings kept for the sparkline.
const defaultHistory = 60

var (
	clearKey = key.NewBinding(key.WithKeys("c"))
	sparks   = []rune("▁▂▃▄▅▆▇█")
)

// Receiver blocks until the next message from a publisher arrives.
type Receiver func() (transport.Message, error)

type tensorMsg struct {
	msg transport.Message
	at  time.Time
}

type recvErrMsg struct {
	err error
}

// MonitorModel shows a live summary of a spectrogram stream: message count,
// tensor shape, latency and an RMS history.
type MonitorModel struct {
	endpoint string
	receive  Receiver
	now      func() time.Time

	count         uint64
	decodeErrors  uint64
	lastDecodeErr error
	last          transport.Header
	lastRMS       float64
	rmsFromHeader bool
	latency       time.Duration
	history       []float64
	historyLen    int
	err           error
}

// NewMonitorModel creates a monitor reading from receive.
func NewMonitorModel(endpoint string, receive Receiver) MonitorModel {
	return MonitorModel{
		endpoint:   endpoint,
		receive:    receive,
		now:        time.Now,
		historyLen: defaultHistory,
	}
}

func (m MonitorModel) Init() tea.Cmd {
	return m.waitForMessage
}

func (m MonitorModel) waitForMessage() tea.Msg {
	msg, err := m.receive()
	if err != nil {
		return recvErrMsg{err}
	}
	return tensorMsg{msg: msg, at: m.now()}
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tensorMsg:
		m.record(msg)
		return m, m.waitForMessage

	case recvErrMsg:
		if transport.IsDecodeError(msg.err) {
			m.decodeErrors++
			m.lastDecodeErr = msg.err
			return m, m.waitForMessage
		}
		m.err = msg.err
		return m, tea.Quit

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, quitKeys):
			return m, tea.Quit
		case key.Matches(msg, clearKey):
			m.history = nil
		}
	}
	return m, nil
}

func (m *MonitorModel) record(tm tensorMsg) {
	m.count++
	m.last = tm.msg.Header
	if tm.msg.Header.RMS != nil {
		m.lastRMS = float64(*tm.msg.Header.RMS)
		m.rmsFromHeader = true
	} else {
		m.lastRMS = transport.TensorRMS(tm.msg.Data)
		m.rmsFromHeader = false
	}
	m.latency = tm.at.Sub(time.UnixMilli(int64(tm.msg.Header.TimestampMs)))

	m.history = append(m.history, m.lastRMS)
	if len(m.history) > m.historyLen {
		m.history = append(m.history[:0:0], m.history[len(m.history)-m.historyLen:]...)
	}
}

// Count returns the number of messages decoded so far.
func (m MonitorModel) Count() uint64 {
	return m.count
}

// Err returns the receive error that ended the monitor, if any.
func (m MonitorModel) Err() error {
	return m.err
}

func (m MonitorModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Resonance Monitor"))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Endpoint:  %s\n", m.endpoint)

	if m.count == 0 {
		sb.WriteString("Waiting for the first message...\n")
	} else {
		source := "tensor"
		if m.rmsFromHeader {
			source = "header"
		}
		fmt.Fprintf(&sb, "Messages:  %d\n", m.count)
		fmt.Fprintf(&sb, "Shape:     %dx%d %s\n", m.last.Bins, m.last.Frames, m.last.Dtype)
		fmt.Fprintf(&sb, "Latency:   %d ms\n", m.latency.Milliseconds())
		fmt.Fprintf(&sb, "RMS:       %s (%s)\n", highlightStyle.Render(fmt.Sprintf("%.5f", m.lastRMS)), source)
		fmt.Fprintf(&sb, "History:   %s\n", Sparkline(m.history))
	}
	if m.decodeErrors > 0 {
		sb.WriteString(warnStyle.Render(fmt.Sprintf("Rejected:  %d (%v)", m.decodeErrors, m.lastDecodeErr)))
		sb.WriteString("\n")
	}
	if m.err != nil {
		sb.WriteString(warnStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("c: Clear history • q: Quit"))
	return sb.String()
}

// Sparkline renders values as block characters scaled to the largest finite
// one. Infinities render as a full block and NaN as the lowest one.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	peak := 0.0
	for _, v := range values {
		if !math.IsInf(v, 0) && !math.IsNaN(v) {
			peak = max(peak, math.Abs(v))
		}
	}

	out := make([]rune, len(values))
	top := len(sparks) - 1
	for i, v := range values {
		switch {
		case math.IsInf(v, 0):
			out[i] = sparks[top]
		case math.IsNaN(v), peak == 0:
			out[i] = sparks[0]
		default:
			out[i] = sparks[int(math.Round(math.Abs(v)/peak*float64(top)))]
		}
	}
	return string(out)
}

// RunMonitor runs the monitor full-screen until the operator quits or
// receive fails.
func RunMonitor(endpoint string, receive Receiver) error {
	p := tea.NewProgram(NewMonitorModel(endpoint, receive), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	return final.(MonitorModel).Err()
}
