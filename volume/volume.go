// Package volume controls the default PulseAudio sink.
package volume

import (
	"fmt"
	"log/slog"
	"math"
	"net"

	"github.com/jfreymuth/pulse/proto"
	"github.com/pgaskin/dalston/discrete"
)

// Level is the volume of a sink.
type Level struct {
	Percent int
	Muted   bool
}

// Mixer controls the volume of the default sink.
type Mixer struct {
	client  *proto.Client
	conn    net.Conn
	logger  *slog.Logger
	updates chan struct{}
}

// Dial connects to the PulseAudio server. If server is empty, the default
// server is used.
func Dial(server string, logger *slog.Logger) (*Mixer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client, conn, err := proto.Connect(server)
	if err != nil {
		return nil, fmt.Errorf("pulse: connect: %w", err)
	}
	m := &Mixer{
		client:  client,
		conn:    conn,
		logger:  logger,
		updates: make(chan struct{}, 1),
	}
	client.Callback = func(val any) {
		if ev, ok := val.(*proto.SubscribeEvent); ok {
			switch ev.Event.GetFacility() {
			case proto.EventSink, proto.EventServer:
				select {
				case m.updates <- struct{}{}:
				default:
				}
			}
		}
	}
	if err := client.Request(&proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("dalston"),
		},
	}, &proto.SetClientNameReply{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pulse: set client name: %w", err)
	}
	if err := client.Request(&proto.Subscribe{Mask: proto.SubscriptionMaskAll}, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pulse: subscribe: %w", err)
	}
	return m, nil
}

// Close closes the connection.
func (m *Mixer) Close() error {
	return m.conn.Close()
}

// Updates notifies when the default sink or its volume may have changed.
func (m *Mixer) Updates() <-chan struct{} {
	return m.updates
}

func (m *Mixer) sink() (proto.GetSinkInfoReply, error) {
	var server proto.GetServerInfoReply
	if err := m.client.Request(&proto.GetServerInfo{}, &server); err != nil {
		return proto.GetSinkInfoReply{}, fmt.Errorf("pulse: get server info: %w", err)
	}
	var sink proto.GetSinkInfoReply
	if err := m.client.Request(&proto.GetSinkInfo{SinkIndex: proto.Undefined, SinkName: server.DefaultSinkName}, &sink); err != nil {
		return sink, fmt.Errorf("pulse: get sink %q: %w", server.DefaultSinkName, err)
	}
	return sink, nil
}

// Get gets the volume of the default sink.
func (m *Mixer) Get() (Level, error) {
	sink, err := m.sink()
	if err != nil {
		return Level{}, err
	}
	return Level{
		Percent: percent(sink.ChannelVolumes),
		Muted:   sink.Mute,
	}, nil
}

// Set sets the average volume of the default sink, keeping the balance
// between channels.
func (m *Mixer) Set(pct int) error {
	sink, err := m.sink()
	if err != nil {
		return err
	}
	return m.set(sink, pct)
}

func (m *Mixer) set(sink proto.GetSinkInfoReply, pct int) error {
	m.logger.Debug("pulse: set volume", "sink", sink.SinkName, "percent", pct)
	if err := m.client.Request(&proto.SetSinkVolume{
		SinkIndex:      sink.SinkIndex,
		ChannelVolumes: scale(sink.ChannelVolumes, pct),
	}, nil); err != nil {
		return fmt.Errorf("pulse: set volume: %w", err)
	}
	return nil
}

// Step changes the volume by delta percent, clamped to 0-100, and returns the
// new level.
func (m *Mixer) Step(delta int) (Level, error) {
	sink, err := m.sink()
	if err != nil {
		return Level{}, err
	}
	pct := discrete.Clamp(percent(sink.ChannelVolumes)+delta, 0, 100)
	if err := m.set(sink, pct); err != nil {
		return Level{}, err
	}
	return Level{Percent: pct, Muted: sink.Mute}, nil
}

// SetMute mutes or unmutes the default sink.
func (m *Mixer) SetMute(mute bool) error {
	sink, err := m.sink()
	if err != nil {
		return err
	}
	return m.setMute(sink, mute)
}

func (m *Mixer) setMute(sink proto.GetSinkInfoReply, mute bool) error {
	if err := m.client.Request(&proto.SetSinkMute{
		SinkIndex: sink.SinkIndex,
		Mute:      mute,
	}, nil); err != nil {
		return fmt.Errorf("pulse: set mute: %w", err)
	}
	return nil
}

// ToggleMute toggles the mute state of the default sink and returns the new
// state.
func (m *Mixer) ToggleMute() (bool, error) {
	sink, err := m.sink()
	if err != nil {
		return false, err
	}
	if err := m.setMute(sink, !sink.Mute); err != nil {
		return sink.Mute, err
	}
	return !sink.Mute, nil
}

// percent averages the channel volumes as a percentage of the normal volume,
// clamped to 0-100. A sink without channels is at 100%.
func percent(cv proto.ChannelVolumes) int {
	if len(cv) == 0 {
		return 100
	}
	var sum float64
	for _, v := range cv {
		sum += float64(v)
	}
	pct := math.Round(sum / float64(len(cv)) / float64(proto.VolumeNorm) * 100)
	return discrete.Clamp(int(pct), 0, 100)
}

// volumeMax is PA_VOLUME_MAX.
const volumeMax = math.MaxUint32 / 2

// scale returns cv scaled so its average is pct of the normal volume. If all
// channels are silent, they are set to the same volume.
func scale(cv proto.ChannelVolumes, pct int) proto.ChannelVolumes {
	pct = discrete.Clamp(pct, 0, 100)
	target := float64(proto.VolumeNorm) * float64(pct) / 100

	var sum float64
	for _, v := range cv {
		sum += float64(v)
	}
	res := make(proto.ChannelVolumes, max(len(cv), 1))
	for i := range res {
		v := target
		if sum > 0 {
			v = float64(cv[i]) * target / (sum / float64(len(cv)))
		}
		res[i] = uint32(min(math.Round(v), volumeMax))
	}
	return res
}
