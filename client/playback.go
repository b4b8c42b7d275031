package client

import (
	"time"

	"github.com/satriahrh/voxbridge/internal/audio"
)

const (
	// ProviderOutputRate is the rate of every audio frame the gateway sends
	ProviderOutputRate = 24000
	// DeviceRate is the rate of capture input and playback output
	DeviceRate = 48000
)

// Clock reports the playback device's current time
type Clock interface {
	Now() time.Duration
}

// Chunk is decoded audio scheduled to start at Start on the playback clock
type Chunk struct {
	Samples []float32
	Start   time.Duration
}

// Duration is how long the chunk plays at DeviceRate
func (c Chunk) Duration() time.Duration {
	return time.Duration(len(c.Samples)) * time.Second / DeviceRate
}

// Sink plays scheduled chunks
type Sink interface {
	Schedule(chunk Chunk)
	// StopAll stops every scheduled chunk immediately
	StopAll()
}

// Player schedules provider audio for gapless playback
type Player struct {
	clock Clock
	sink  Sink
	next  time.Duration
}

// NewPlayer creates a player. A nil sink discards audio.
func NewPlayer(clock Clock, sink Sink) *Player {
	if clock == nil {
		clock = newWallClock()
	}
	if sink == nil {
		sink = discardSink{}
	}
	return &Player{clock: clock, sink: sink}
}

// Enqueue decodes one PCM16 frame at ProviderOutputRate and schedules it
// right after the previous chunk, or now if playback has fallen behind.
func (p *Player) Enqueue(pcm []byte) Chunk {
	samples := audio.ResampleFloat(audio.PCM16ToFloats(audio.BytesToInt16(pcm)), ProviderOutputRate, DeviceRate)

	start := p.clock.Now()
	if p.next > start {
		start = p.next
	}
	chunk := Chunk{Samples: samples, Start: start}
	p.next = start + chunk.Duration()

	p.sink.Schedule(chunk)
	return chunk
}

// Interrupt stops playback and resets the schedule
func (p *Player) Interrupt() {
	p.sink.StopAll()
	p.next = 0
}

type wallClock struct {
	start time.Time
}

func newWallClock() wallClock {
	return wallClock{start: time.Now()}
}

func (c wallClock) Now() time.Duration {
	return time.Since(c.start)
}

type discardSink struct{}

func (discardSink) Schedule(Chunk) {}
func (discardSink) StopAll()       {}
