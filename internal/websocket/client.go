package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/domain/repositories"
	"github.com/satriahrh/voxbridge/internal/recorder"
)

// Providers stream assistant audio at this fixed rate
const providerOutputRate = 24000

type eventKind int

const (
	eventClientMessage eventKind = iota
	eventMessageError
	eventClosed
	eventAudio
	eventTranscription
	eventTurnComplete
	eventInterrupted
	eventProviderError
)

// event is one input to a session's loop
type event struct {
	kind   eventKind
	source *providerLink

	message       ClientMessage
	audio         []byte
	transcription entities.Transcription
	err           error
	reason        entities.EndReason
}

// providerLink is one installed provider connection. stale is closed when
// the link is detached so its handlers stop blocking on the loop.
type providerLink struct {
	conn       repositories.Connection
	providerID string
	stale      chan struct{}
}

// Client is a middleman between the websocket connection and one provider
// connection. All session state is owned by the run loop.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// id is the session id at upgrade time
	id      string
	user    *entities.User
	session *entities.Session
	logger  *zap.Logger

	events chan event

	// writerDone is closed when writePump exits
	writerDone chan struct{}
	// socketGone is closed when readPump exits
	socketGone chan struct{}
	// quit asks the loop to end the session
	quit     chan struct{}
	quitOnce sync.Once
	// done is closed after teardown
	done chan struct{}

	// Owned by run
	active   *providerLink
	history  []entities.Transcription
	recorder *recorder.Recorder
}

func newClient(hub *Hub, conn *websocket.Conn, user *entities.User) *Client {
	session := entities.NewSession()
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan WriteData, 256),
		id:         session.ID,
		user:       user,
		session:    session,
		logger:     hub.logger.With(zap.String("sessionID", session.ID), zap.String("userID", user.ID)),
		events:     make(chan event, 64),
		writerDone: make(chan struct{}),
		socketGone: make(chan struct{}),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// startRecording attaches a recorder when recording is enabled. Failures
// leave the session unrecorded.
func (c *Client) startRecording() {
	if c.hub.recording == nil {
		return
	}

	rec, err := recorder.New(c.session.ID, *c.hub.recording, c.logger)
	if err != nil {
		c.logger.Error("Failed to create recorder", zap.Error(err))
		return
	}
	if err := rec.Start(); err != nil {
		c.logger.Error("Failed to start recorder", zap.Error(err))
		return
	}
	c.recorder = rec
}

// readPump pumps frames from the websocket connection into the loop.
func (c *Client) readPump() {
	reason := entities.EndReasonDisconnect
	defer func() {
		close(c.socketGone)
		c.push(event{kind: eventClosed, reason: reason})
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			reason = closeReason(err)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		msg, err := ParseClientMessage(messageType, message)
		if err != nil {
			c.push(event{kind: eventMessageError, err: err})
			continue
		}
		c.push(event{kind: eventClientMessage, message: msg})
	}
}

func closeReason(err error) entities.EndReason {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return entities.EndReasonTimeout
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return entities.EndReasonDisconnect
	}
	return entities.EndReasonError
}

// writePump pumps messages from the loop to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push delivers an event from the socket side
func (c *Client) push(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// forward delivers an event from a provider connection. It gives up once the
// link is detached or the session is over.
func (c *Client) forward(link *providerLink, ev event) {
	ev.source = link
	select {
	case c.events <- ev:
	case <-link.stale:
	case <-c.done:
	}
}

func (c *Client) stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// run is the session's event loop. It returns after teardown.
func (c *Client) run() {
	for {
		select {
		case <-c.quit:
			c.teardown(entities.EndReasonDisconnect)
			return
		case ev := <-c.events:
			if ev.kind == eventClosed {
				c.teardown(ev.reason)
				return
			}
			c.handle(ev)
		}
	}
}

func (c *Client) handle(ev event) {
	switch ev.kind {
	case eventMessageError:
		c.logger.Warn("Failed to parse client message", zap.Error(ev.err))
		c.sendError(ErrorCodeMessage, ev.err.Error())
	case eventClientMessage:
		c.hub.metrics.ClientMessage(string(ev.message.Type))
		c.handleClientMessage(ev.message)
	default:
		if ev.source == nil || ev.source != c.active {
			// Superseded connection
			return
		}
		c.handleProviderEvent(ev)
	}
}

func (c *Client) handleClientMessage(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSelectProvider:
		c.selectProvider(msg.ProviderID, msg.VoiceID)

	case MessageTypeAudio:
		if c.recorder != nil {
			c.recorder.WriteAudio(msg.Data, c.hub.service.InputSampleRate(c.session.ProviderID))
		}
		if c.active != nil {
			c.active.conn.Send(repositories.AudioMessage(msg.Data))
		}

	case MessageTypeText:
		if c.active != nil {
			c.active.conn.Send(repositories.TextMessage(msg.Content))
		}

	case MessageTypeInterrupt:
		if c.active != nil {
			c.active.conn.Interrupt()
		}

	case MessageTypeReconnect:
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := c.hub.service.Resolve(ctx, c.session, c.user, msg.SessionID); err != nil {
			c.logger.Info("Reconnect did not resolve a session",
				zap.String("requestedSessionID", msg.SessionID),
				zap.Error(err))
			return
		}
		c.logger.Info("Resumed conversation", zap.String("conversationID", c.session.Conversation.ID))
	}
}

func (c *Client) selectProvider(providerID, voiceID string) {
	if _, err := c.hub.service.Provider(providerID); err != nil {
		c.sendError(ErrorCodeInvalidProvider, fmt.Sprintf("Provider %s not found", providerID))
		return
	}

	if c.active != nil {
		old := c.detach()
		c.hub.metrics.ProviderSwap()
		c.disconnect(old)
	}

	storeCtx, cancelStore := context.WithTimeout(context.Background(), storeTimeout)
	plan, err := c.hub.service.PrepareConnect(storeCtx, c.session, c.user, providerID, voiceID, c.history)
	cancelStore()
	if err != nil {
		c.sendError(ErrorCodeProvider, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerTimeout)
	defer cancel()

	start := time.Now()
	conn, err := plan.Provider.Connect(ctx, plan.Config)
	c.hub.metrics.ProviderConnect(providerID, time.Since(start), err)
	if err != nil {
		c.logger.Error("Provider connect failed", zap.String("providerID", providerID), zap.Error(err))
		message := err.Error()
		if message == "" {
			message = "Connection failed"
		}
		c.sendError(ErrorCodeProvider, message)
		return
	}

	select {
	case <-c.socketGone:
		// The client left while connecting
		c.disconnect(&providerLink{conn: conn, providerID: providerID})
		return
	default:
	}

	link := &providerLink{conn: conn, providerID: providerID, stale: make(chan struct{})}
	c.wire(link)
	c.active = link
	c.session.ProviderID = providerID

	c.logger.Info("Provider connected", zap.String("providerID", providerID), zap.String("voice", plan.Config.Voice))

	c.sendJSON(SessionReadyMessage{
		Type:       MessageTypeSessionReady,
		SessionID:  c.session.ID,
		SampleRate: plan.Info.SampleRate,
	})
	if plan.Persisted != nil {
		c.sendJSON(HistoryMessage{Type: MessageTypeHistory, Messages: plan.Persisted})
	}

	if c.hub.hooks.OnConnect != nil {
		c.hub.hooks.OnConnect(c.session, c.user)
	}
}

// wire routes a connection's callbacks into the loop
func (c *Client) wire(link *providerLink) {
	link.conn.OnAudio(func(audio []byte) {
		c.forward(link, event{kind: eventAudio, audio: audio})
	})
	link.conn.OnTranscription(func(t entities.Transcription) {
		c.forward(link, event{kind: eventTranscription, transcription: t})
	})
	link.conn.OnTurnComplete(func() {
		c.forward(link, event{kind: eventTurnComplete})
	})
	link.conn.OnInterrupted(func() {
		c.forward(link, event{kind: eventInterrupted})
	})
	link.conn.OnError(func(err error) {
		c.forward(link, event{kind: eventProviderError, err: err})
	})
}

// detach clears the active link before its connection is disconnected
func (c *Client) detach() *providerLink {
	old := c.active
	c.active = nil
	if old != nil {
		close(old.stale)
	}
	return old
}

func (c *Client) disconnect(link *providerLink) {
	ctx, cancel := context.WithTimeout(context.Background(), providerTimeout)
	defer cancel()
	if err := link.conn.Disconnect(ctx); err != nil {
		c.logger.Warn("Provider disconnect failed", zap.String("providerID", link.providerID), zap.Error(err))
	}
}

func (c *Client) handleProviderEvent(ev event) {
	switch ev.kind {
	case eventAudio:
		c.sendFrame(WriteData{Type: websocket.BinaryMessage, Payload: ev.audio})
		if c.recorder != nil {
			c.recorder.WriteAudio(ev.audio, providerOutputRate)
		}

	case eventTranscription:
		t := ev.transcription
		c.sendJSON(TranscriptionMessage{
			Type:  MessageTypeTranscription,
			Role:  t.Role,
			Text:  t.Text,
			Final: t.Final,
		})
		if c.hub.hooks.OnTranscription != nil {
			c.hub.hooks.OnTranscription(t, c.session)
		}
		if !t.Final {
			return
		}
		c.history = append(c.history, t)

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := c.hub.service.SaveTranscription(ctx, c.session, t); err != nil {
			c.logger.Error("Failed to persist transcription", zap.Error(err))
		}

	case eventTurnComplete:
		c.sendJSON(SignalMessage{Type: MessageTypeTurnComplete})

	case eventInterrupted:
		c.sendJSON(SignalMessage{Type: MessageTypeInterrupted})

	case eventProviderError:
		c.hub.metrics.ProviderError(ev.source.providerID)
		c.logger.Warn("Provider error", zap.String("providerID", ev.source.providerID), zap.Error(ev.err))
		c.sendError(ErrorCodeProvider, ev.err.Error())
	}
}

func (c *Client) teardown(reason entities.EndReason) {
	if c.active != nil {
		c.disconnect(c.detach())
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	if err := c.hub.service.EndSession(ctx, c.session, reason); err != nil {
		c.logger.Error("Failed to end session", zap.Error(err))
	}
	cancel()

	if c.hub.hooks.OnDisconnect != nil {
		c.hub.hooks.OnDisconnect(c.session, c.user)
	}

	if c.recorder != nil {
		if err := c.recorder.Stop(); err != nil {
			c.logger.Error("Failed to finalize recording", zap.Error(err))
		}
		c.hub.metrics.RecordingFinished(c.recorder.UsesTranscoder(), c.recorder.TotalSamples())
		c.recorder = nil
	}

	c.history = nil
	close(c.done)
	close(c.send)
	c.hub.unregister <- c

	c.hub.metrics.SessionClosed(string(reason), time.Since(c.session.CreatedAt))
	c.logger.Info("Session closed", zap.String("reason", string(reason)))
}

func (c *Client) sendFrame(data WriteData) {
	select {
	case c.send <- data:
	case <-c.writerDone:
	}
}

func (c *Client) sendJSON(v any) {
	frame, err := jsonFrame(v)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return
	}
	c.sendFrame(frame)
}

func (c *Client) sendError(code, message string) {
	c.hub.metrics.ProtocolError(code)
	c.sendJSON(ErrorMessage{Type: MessageTypeError, Code: code, Message: message})
}
