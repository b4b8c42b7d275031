package openai

// Client events

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string           `json:"modalities"`
	Voice                   string             `json:"voice"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	TurnDetection           turnDetection      `json:"turn_detection"`
	Instructions            string             `json:"instructions,omitempty"`
	InputAudioTranscription *transcriptionSpec `json:"input_audio_transcription,omitempty"`
	Tools                   []tool             `json:"tools,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type transcriptionSpec struct {
	Model string `json:"model"`
}

type tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type itemCreate struct {
	Type string `json:"type"`
	Item item   `json:"item"`
}

type item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []itemContent `json:"content"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type bareEvent struct {
	Type string `json:"type"`
}

// Server events share one envelope; only the fields we read are declared

type serverEvent struct {
	Type       string       `json:"type"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Error      *serverError `json:"error,omitempty"`
}

type serverError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

const (
	eventSessionUpdate   = "session.update"
	eventItemCreate      = "conversation.item.create"
	eventResponseCreate  = "response.create"
	eventResponseCancel  = "response.cancel"
	eventAudioAppend     = "input_audio_buffer.append"
	eventAudioDelta      = "response.audio.delta"
	eventInputTranscript = "conversation.item.input_audio_transcription.completed"
	eventTranscriptDelta = "response.audio_transcript.delta"
	eventTranscriptDone  = "response.audio_transcript.done"
	eventResponseDone    = "response.done"
	eventSpeechStarted   = "input_audio_buffer.speech_started"
	eventError           = "error"
)
