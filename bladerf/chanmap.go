package bladerf

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ChannelMap assigns each logical output stream to a hardware receive
// channel. Streams start out on their same-numbered channel.
type ChannelMap struct {
	assign []int
	max    int
}

// NewChannelMap builds an identity map of streams onto the first
// streams of max hardware channels.
func NewChannelMap(streams, max int) (*ChannelMap, error) {
	if max < 1 {
		return nil, fmt.Errorf("%w: device reports no receive channels", ErrConfiguration)
	}
	if streams < 1 || streams > max {
		return nil, fmt.Errorf("%w: %d streams on %d channels", ErrConfiguration, streams, max)
	}
	m := &ChannelMap{assign: make([]int, streams), max: max}
	for i := range m.assign {
		m.assign[i] = i
	}
	return m, nil
}

// Streams returns the number of logical streams.
func (m *ChannelMap) Streams() int { return len(m.assign) }

// MaxChannels returns the hardware channel count backing the map.
func (m *ChannelMap) MaxChannels() int { return m.max }

// Channel returns the hardware channel a stream reads from.
func (m *ChannelMap) Channel(stream int) (int, error) {
	if stream < 0 || stream >= len(m.assign) {
		return 0, fmt.Errorf("%w: stream %d out of range", ErrConfiguration, stream)
	}
	return m.assign[stream], nil
}

// SetChannel points a stream at a hardware channel.
func (m *ChannelMap) SetChannel(stream, channel int) error {
	if stream < 0 || stream >= len(m.assign) {
		return fmt.Errorf("%w: stream %d out of range", ErrConfiguration, stream)
	}
	if channel < 0 || channel >= m.max {
		return fmt.Errorf("%w: channel %d out of range", ErrConfiguration, channel)
	}
	m.assign[stream] = channel
	return nil
}

// Channels returns the distinct mapped hardware channels in ascending
// order. These are the channels a Source enables and disables.
func (m *ChannelMap) Channels() []int {
	seen := make(map[int]bool, len(m.assign))
	chans := make([]int, 0, len(m.assign))
	for _, ch := range m.assign {
		if !seen[ch] {
			seen[ch] = true
			chans = append(chans, ch)
		}
	}
	sort.Ints(chans)
	return chans
}

// AntennaName returns the conventional name of a receive channel, RX1
// for channel 0 and so on.
func AntennaName(channel int) string {
	return "RX" + strconv.Itoa(channel+1)
}

// ParseAntenna resolves an antenna name back to its channel index.
func ParseAntenna(name string) (int, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if strings.HasPrefix(upper, "RX") {
		if n, err := strconv.Atoi(upper[2:]); err == nil && n >= 1 {
			return n - 1, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown antenna %q", ErrConfiguration, name)
}
