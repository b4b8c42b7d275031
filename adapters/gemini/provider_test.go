package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/adapters/realtime"
	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/domain/repositories"
)

// fakeLive acknowledges setup and plays a script when the client sends a text turn
type fakeLive struct {
	server        *httptest.Server
	skipSetupDone bool
	script        []any

	mu       sync.Mutex
	query    string
	received []map[string]any
}

func newFakeLive(t *testing.T, script []any) *fakeLive {
	t.Helper()
	f := &fakeLive{script: script}
	upgrader := websocket.Upgrader{}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.RawQuery
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			json.Unmarshal(data, &msg)

			f.mu.Lock()
			f.received = append(f.received, msg)
			f.mu.Unlock()

			if _, ok := msg["setup"]; ok && !f.skipSetupDone {
				conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
			}
			if _, ok := msg["clientContent"]; ok {
				for _, m := range f.script {
					conn.WriteJSON(m)
				}
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeLive) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/live"
}

func (f *fakeLive) waitFor(t *testing.T, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		got := append([]map[string]any(nil), f.received...)
		f.mu.Unlock()
		if len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("upstream did not receive %d messages", n)
	return nil
}

func newTestProvider(t *testing.T, f *fakeLive, timeout time.Duration) *Provider {
	t.Helper()
	p, err := NewProvider(Config{APIKey: "g-key", URL: f.url(), SetupTimeout: timeout}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func content(fields map[string]any) map[string]any {
	return map[string]any{"serverContent": fields}
}

type events struct {
	mu    sync.Mutex
	log   []string
	items []entities.Transcription
	audio [][]byte
	errs  []error
	done  chan struct{}
	want  int
	turns int
}

func newEvents(wantTurns int) *events {
	return &events{done: make(chan struct{}), want: wantTurns}
}

func (e *events) wire(conn repositories.Connection) {
	conn.OnAudio(func(b []byte) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.audio = append(e.audio, b)
		e.log = append(e.log, "audio")
	})
	conn.OnTranscription(func(t entities.Transcription) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.items = append(e.items, t)
		e.log = append(e.log, "transcription")
	})
	conn.OnInterrupted(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.log = append(e.log, "interrupted")
	})
	conn.OnError(func(err error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.errs = append(e.errs, err)
		e.log = append(e.log, "error")
	})
	conn.OnTurnComplete(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.log = append(e.log, "turn_complete")
		e.turns++
		if e.turns == e.want {
			close(e.done)
		}
	})
}

func (e *events) wait(t *testing.T) {
	t.Helper()
	select {
	case <-e.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn completion")
	}
}

func TestConnect_SetupEnvelope(t *testing.T) {
	f := newFakeLive(t, nil)
	p := newTestProvider(t, f, time.Second)

	conn, err := p.Connect(context.Background(), repositories.SessionConfig{
		Voice:             "Kore",
		SystemInstruction: "You are terse.",
		Transcription:     repositories.TranscriptionFlags{Input: true, Output: true},
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Disconnect(context.Background())

	msgs := f.waitFor(t, 1)
	f.mu.Lock()
	query := f.query
	f.mu.Unlock()
	if query != "key=g-key" {
		t.Errorf("query = %q", query)
	}

	setup := msgs[0]["setup"].(map[string]any)
	if setup["model"] != "models/"+DefaultModel {
		t.Errorf("model = %v", setup["model"])
	}
	gen := setup["generationConfig"].(map[string]any)
	if mods := gen["responseModalities"].([]any); len(mods) != 1 || mods[0] != "AUDIO" {
		t.Errorf("responseModalities = %v", mods)
	}
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)
	if voice["voiceName"] != "Kore" {
		t.Errorf("voice = %v", voice)
	}
	parts := setup["systemInstruction"].(map[string]any)["parts"].([]any)
	if parts[0].(map[string]any)["text"] != "You are terse." {
		t.Errorf("systemInstruction = %v", parts)
	}
	if _, ok := setup["inputAudioTranscription"]; !ok {
		t.Error("missing inputAudioTranscription")
	}
	if _, ok := setup["outputAudioTranscription"]; !ok {
		t.Error("missing outputAudioTranscription")
	}
}

func TestConnect_SetupTimeout(t *testing.T) {
	f := newFakeLive(t, nil)
	f.skipSetupDone = true
	p := newTestProvider(t, f, 100*time.Millisecond)

	start := time.Now()
	_, err := p.Connect(context.Background(), repositories.SessionConfig{})
	if !errors.Is(err, realtime.ErrSetupTimeout) {
		t.Fatalf("err = %v, want ErrSetupTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("setup timeout not honoured")
	}
}

func TestConnection_RoleSwitchFlushesUserTranscription(t *testing.T) {
	audio := []byte{9, 8, 7, 6}
	f := newFakeLive(t, []any{
		content(map[string]any{"inputTranscription": map[string]any{"text": "What's"}}),
		content(map[string]any{"inputTranscription": map[string]any{"text": " up"}}),
		content(map[string]any{"outputTranscription": map[string]any{"text": "Not"}}),
		content(map[string]any{"modelTurn": map[string]any{"parts": []any{
			map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": base64.StdEncoding.EncodeToString(audio)}},
		}}}),
		content(map[string]any{"outputTranscription": map[string]any{"text": " much"}}),
		content(map[string]any{"turnComplete": true}),
	})
	p := newTestProvider(t, f, time.Second)

	conn, err := p.Connect(context.Background(), repositories.SessionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect(context.Background())

	ev := newEvents(1)
	ev.wire(conn)
	conn.Send(repositories.TextMessage("go"))
	ev.wait(t)

	ev.mu.Lock()
	defer ev.mu.Unlock()

	want := []entities.Transcription{
		{Role: entities.RoleUser, Text: "What's"},
		{Role: entities.RoleUser, Text: "What's up"},
		{Role: entities.RoleUser, Text: "What's up", Final: true},
		{Role: entities.RoleAssistant, Text: "Not"},
		{Role: entities.RoleAssistant, Text: "Not much"},
		{Role: entities.RoleAssistant, Text: "Not much", Final: true},
	}
	if len(ev.items) != len(want) {
		t.Fatalf("transcriptions = %+v", ev.items)
	}
	for i := range want {
		if ev.items[i] != want[i] {
			t.Errorf("transcription %d = %+v, want %+v", i, ev.items[i], want[i])
		}
	}
	if len(ev.audio) != 1 || string(ev.audio[0]) != string(audio) {
		t.Errorf("audio = %v", ev.audio)
	}
	if last := ev.log[len(ev.log)-1]; last != "turn_complete" {
		t.Errorf("last event = %q", last)
	}
}

func TestConnection_InterruptionDiscardsBuffers(t *testing.T) {
	f := newFakeLive(t, []any{
		content(map[string]any{"outputTranscription": map[string]any{"text": "Let me tell"}}),
		content(map[string]any{"inputTranscription": map[string]any{"text": "stop"}}),
		content(map[string]any{"interrupted": true}),
		content(map[string]any{"turnComplete": true}),
	})
	p := newTestProvider(t, f, time.Second)

	conn, err := p.Connect(context.Background(), repositories.SessionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect(context.Background())

	ev := newEvents(1)
	ev.wire(conn)
	conn.Send(repositories.TextMessage("go"))
	ev.wait(t)

	ev.mu.Lock()
	defer ev.mu.Unlock()

	for _, item := range ev.items {
		if item.Final {
			t.Errorf("unexpected final transcription after interruption: %+v", item)
		}
	}
	wantLog := []string{"transcription", "transcription", "interrupted", "turn_complete"}
	if strings.Join(ev.log, ",") != strings.Join(wantLog, ",") {
		t.Errorf("log = %v, want %v", ev.log, wantLog)
	}
}

func TestConnection_GoAwayReportsError(t *testing.T) {
	f := newFakeLive(t, []any{
		map[string]any{"goAway": map[string]any{"timeLeft": "10s"}},
		content(map[string]any{"turnComplete": true}),
	})
	p := newTestProvider(t, f, time.Second)

	conn, err := p.Connect(context.Background(), repositories.SessionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect(context.Background())

	ev := newEvents(1)
	ev.wire(conn)
	conn.Send(repositories.TextMessage("go"))
	ev.wait(t)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.errs) != 1 || !errors.Is(ev.errs[0], ErrGoAway) {
		t.Errorf("errors = %v", ev.errs)
	}
}

func TestConnection_SendEnvelopes(t *testing.T) {
	f := newFakeLive(t, nil)
	p := newTestProvider(t, f, time.Second)

	conn, err := p.Connect(context.Background(), repositories.SessionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect(context.Background())

	conn.Send(repositories.AudioMessage([]byte{1, 2}))
	conn.Interrupt()
	conn.Send(repositories.TextMessage("hello"))

	msgs := f.waitFor(t, 4)

	audio := msgs[1]["realtimeInput"].(map[string]any)["audio"].(map[string]any)
	if audio["mimeType"] != "audio/pcm;rate=16000" || audio["data"] != base64.StdEncoding.EncodeToString([]byte{1, 2}) {
		t.Errorf("audio envelope = %v", audio)
	}
	if end := msgs[2]["realtimeInput"].(map[string]any)["audioStreamEnd"]; end != true {
		t.Errorf("interrupt envelope = %v", msgs[2])
	}
	cc := msgs[3]["clientContent"].(map[string]any)
	if cc["turnComplete"] != true {
		t.Errorf("clientContent = %v", cc)
	}
	turn := cc["turns"].([]any)[0].(map[string]any)
	if turn["role"] != "user" || turn["parts"].([]any)[0].(map[string]any)["text"] != "hello" {
		t.Errorf("turn = %v", turn)
	}
}
