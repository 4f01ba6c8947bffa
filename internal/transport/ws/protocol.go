// Package ws carries one voice conversation over a WebSocket connection.
//
// The browser (or any other client) captures audio and runs speech
// recognition itself. It streams analysis frames and transcripts to the
// server as JSON text messages, or raw 16-bit PCM as binary messages. The
// server answers with state changes, subtitles and reply audio. Audio is
// sent as binary messages followed by an "audio_end" marker; the client
// acknowledges with "playback_done" once everything was heard. Replies
// rendered by the client's own speech synthesiser are requested with a
// "speak" message and acknowledged with "speech_done".
package ws

// Client message types.
const (
	TypeHello        = "hello"
	TypeFrame        = "frame"
	TypeTranscript   = "transcript"
	TypeCommand      = "command"
	TypePlaybackDone = "playback_done"
	TypeSpeechDone   = "speech_done"
)

// Server message types.
const (
	TypeSession   = "session"
	TypeState     = "state"
	TypeSubtitle  = "subtitle"
	TypeSpeak     = "speak"
	TypeStopAudio = "stop_audio"
	TypeAudioEnd  = "audio_end"
	TypeEnded     = "ended"
	TypeError     = "error"
)

// ClientMessage is a JSON message sent by the client. Only the fields of its
// Type are set.
type ClientMessage struct {
	Type string `json:"type"`

	// hello
	SessionID  string `json:"session_id,omitempty"`
	User       string `json:"user,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`

	// frame: analyser byte arrays, base64 encoded on the wire.
	TimeDomain  []byte `json:"time_domain,omitempty"`
	Frequency   []byte `json:"frequency,omitempty"`
	TimestampMS int64  `json:"timestamp_ms,omitempty"`

	// transcript
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// command
	Command string `json:"command,omitempty"`

	// speech_done
	ID uint64 `json:"id,omitempty"`
}

// ServerMessage is a JSON message sent to the client.
type ServerMessage struct {
	Type string `json:"type"`

	SessionID string `json:"session_id,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`

	// state
	State  string `json:"state,omitempty"`
	From   string `json:"from,omitempty"`
	Reason string `json:"reason,omitempty"`

	// subtitle, speak
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`
	ID    uint64 `json:"id,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}
