package tts

// VoiceProfile describes the voice the assistant speaks with.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier. Providers fall back to their
	// own default when it is empty.
	ID string

	// Name is the human-readable voice name.
	Name string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default, 0 = default).
	SpeedFactor float64
}

// Capabilities describes a TTS backend.
type Capabilities struct {
	// SampleRate is the PCM sample rate of emitted audio in Hz. Zero when the
	// provider emits no audio bytes.
	SampleRate int

	// ClientSide is true when speech is rendered by the listener's device and
	// the audio channel therefore closes without carrying any bytes.
	ClientSide bool
}
