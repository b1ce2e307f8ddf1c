package registry

import "github.com/alexfinch7/lines/internal/speech/engine"

// TTS is the global TTS engine registry.
var TTS = New[engine.TTSEngine]()
