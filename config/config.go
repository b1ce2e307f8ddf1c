package config

import (
	"time"

	"github.com/pitabwire/frame/config"
)

// LinesConfig holds configuration for the rehearsal backend service.
type LinesConfig struct {
	config.ConfigurationDefault

	// Speech synthesis
	TTSBackend               string `envDefault:"elevenlabs"        env:"TTS_BACKEND"`
	TTSModel                 string `envDefault:"eleven_flash_v2_5" env:"TTS_MODEL"`
	ElevenLabsAPIKey         string `envDefault:""                  env:"ELEVENLABS_API_KEY"`
	ElevenLabsMaleVoiceID    string `envDefault:""                  env:"ELEVENLABS_MALE_VOICE_ID"`
	ElevenLabsFemaleVoiceID  string `envDefault:""                  env:"ELEVENLABS_FEMALE_VOICE_ID"`
	ElevenLabsDefaultVoiceID string `envDefault:""                  env:"ELEVENLABS_DEFAULT_VOICE_ID"`
	GoogleAPIKey             string `envDefault:""                  env:"GOOGLE_API_KEY"`
	MaxLineTextLength        int    `envDefault:"500"               env:"MAX_LINE_TEXT_LENGTH"`

	// Voice catalog (YAML overrides for selector -> vendor voice id)
	VoiceCatalogDir string `envDefault:"./voices" env:"VOICE_CATALOG_DIR"`

	// Reader audio jobs
	SynthesisBatchSize int `envDefault:"6"  env:"SYNTHESIS_BATCH_SIZE"`
	JobTimeoutMin      int `envDefault:"30" env:"JOB_TIMEOUT_MIN"`

	// Blob storage
	StorageBackend     string `envDefault:"supabase"          env:"STORAGE_BACKEND"`
	SupabaseURL        string `envDefault:""                  env:"SUPABASE_URL"`
	SupabaseServiceKey string `envDefault:""                  env:"SUPABASE_SERVICE_ROLE_KEY"`
	RecordingsBucket   string `envDefault:"reader-recordings" env:"RECORDINGS_BUCKET"`
	LinesBucket        string `envDefault:"lines"             env:"LINES_BUCKET"`

	// Commit protocol
	CommitTimeoutSec int `envDefault:"60" env:"COMMIT_TIMEOUT_SEC"`
}

// JobTimeout returns the stale-job timeout as a duration.
func (c *LinesConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMin) * time.Minute
}

// CommitTimeout returns the timeout applied to a commit's storage migration.
func (c *LinesConfig) CommitTimeout() time.Duration {
	return time.Duration(c.CommitTimeoutSec) * time.Second
}

// TTSServiceConfig flattens the vendor credentials into the map shape the
// speech backend registry expects.
func (c *LinesConfig) TTSServiceConfig() map[string]string {
	return map[string]string{
		"elevenlabs_api_key": c.ElevenLabsAPIKey,
		"google_api_key":     c.GoogleAPIKey,
		"model":              c.TTSModel,
	}
}
