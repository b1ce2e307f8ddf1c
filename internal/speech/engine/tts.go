package engine

import "context"

// Voice describes an available TTS voice.
type Voice struct {
	ID       string
	Name     string
	Language string
}

// TTSEngine synthesizes speech from text. Implementations wrap a single
// vendor API and return the encoded audio bytes for one utterance.
type TTSEngine interface {
	Synthesize(ctx context.Context, text string, voice string) ([]byte, error)
	Voices() []Voice
	Close() error
}
