package realtime

import (
	"sync"

	"github.com/satriahrh/voxbridge/domain/entities"
)

// Dispatcher stores the event handlers of one upstream connection.
//
// Emit calls hold a read lock for the duration of the handler, so once Close
// returns no handler is running and none will run again.
type Dispatcher struct {
	mu     sync.RWMutex
	closed bool

	onAudio         func([]byte)
	onTranscription func(entities.Transcription)
	onTurnComplete  func()
	onInterrupted   func()
	onError         func(error)
}

func (d *Dispatcher) OnAudio(handler func(audio []byte)) {
	d.mu.Lock()
	d.onAudio = handler
	d.mu.Unlock()
}

func (d *Dispatcher) OnTranscription(handler func(t entities.Transcription)) {
	d.mu.Lock()
	d.onTranscription = handler
	d.mu.Unlock()
}

func (d *Dispatcher) OnTurnComplete(handler func()) {
	d.mu.Lock()
	d.onTurnComplete = handler
	d.mu.Unlock()
}

func (d *Dispatcher) OnInterrupted(handler func()) {
	d.mu.Lock()
	d.onInterrupted = handler
	d.mu.Unlock()
}

func (d *Dispatcher) OnError(handler func(err error)) {
	d.mu.Lock()
	d.onError = handler
	d.mu.Unlock()
}

func (d *Dispatcher) EmitAudio(audio []byte) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.closed && d.onAudio != nil {
		d.onAudio(audio)
	}
}

func (d *Dispatcher) EmitTranscription(t entities.Transcription) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.closed && d.onTranscription != nil {
		d.onTranscription(t)
	}
}

func (d *Dispatcher) EmitTurnComplete() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.closed && d.onTurnComplete != nil {
		d.onTurnComplete()
	}
}

func (d *Dispatcher) EmitInterrupted() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.closed && d.onInterrupted != nil {
		d.onInterrupted()
	}
}

func (d *Dispatcher) EmitError(err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.closed && d.onError != nil {
		d.onError(err)
	}
}

// Close drops every handler. It blocks until in-flight handlers return.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.onAudio = nil
	d.onTranscription = nil
	d.onTurnComplete = nil
	d.onInterrupted = nil
	d.onError = nil
	d.mu.Unlock()
}

// Closed reports whether Close has been called
func (d *Dispatcher) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}
