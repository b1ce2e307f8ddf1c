package scene

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/pitabwire/frame/data"
)

// ErrNotFound is returned when a script, line, or session does not exist.
var ErrNotFound = errors.New("not found")

// Script is the aggregate record for one rehearsal piece. The table is owned
// by the authoring surface; this service reads it and only ever touches
// sharable/need_trim/updated_at through the commit finalize step.
type Script struct {
	ID        string       `gorm:"column:id;primaryKey"           json:"id"`
	UserID    string       `gorm:"column:user_id"                 json:"user_id"`
	Title     string       `gorm:"column:title"                   json:"title"`
	Sharable  bool         `gorm:"column:sharable"                json:"sharable"`
	NeedTrim  bool         `gorm:"column:need_trim"               json:"need_trim"`
	UpdatedAt sql.NullTime `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

func (Script) TableName() string { return "scripts" }

// ScriptLine is one canonical line of a script. order_index together with id
// yields the total order over a script's lines; updated_at is the per-row
// optimistic concurrency marker.
type ScriptLine struct {
	ID               string        `gorm:"column:id;primaryKey"  json:"id"`
	ScriptID         string        `gorm:"column:script_id;index" json:"script_id"`
	RawText          string        `gorm:"column:raw_text"        json:"raw_text"`
	OrderIndex       sql.NullInt64 `gorm:"column:order_index"     json:"order_index"`
	IsStageDirection bool          `gorm:"column:is_stage_direction" json:"is_stage_direction"`
	IsCueLine        bool          `gorm:"column:is_cue_line"     json:"is_cue_line"`
	AudioURL         string        `gorm:"column:audio_url"       json:"audio_url"`
	UpdatedAt        sql.NullTime  `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

func (ScriptLine) TableName() string { return "lines" }

// Session status values.
const (
	SessionPending   = "pending"
	SessionCompleted = "completed"
)

// ShareSession is one collaborative-recording invitation bound to a script.
// The cached line arrays hold per-session recording overrides only; scene
// layout is always re-derived from the canonical lines at read time.
type ShareSession struct {
	data.BaseModel

	Title       string           `gorm:"type:varchar(255);not null"          json:"title"`
	Status      string           `gorm:"type:varchar(20);default:'pending'"  json:"status"`
	SceneID     string           `gorm:"type:varchar(50);not null;index:idx_share_scene" json:"scene_id"`
	UserID      string           `gorm:"type:varchar(50);not null"           json:"user_id"`
	ActorLines  LineSnapshotJSON `gorm:"type:jsonb;default:'[]'"             json:"actor_lines"`
	ReaderLines LineSnapshotJSON `gorm:"type:jsonb;default:'[]'"             json:"reader_lines"`
}

func (ShareSession) TableName() string { return "share_sessions" }

// CachedLine is the per-session view of one line handed to the reader UI.
type CachedLine struct {
	LineID   string `json:"lineId"`
	Index    int64  `json:"index"`
	Text     string `json:"text"`
	AudioURL string `json:"audioUrl,omitempty"`
}

// LineSnapshotJSON is a custom GORM type for JSONB storage of cached lines.
type LineSnapshotJSON []CachedLine

func (l LineSnapshotJSON) Value() (interface{}, error) {
	return json.Marshal(l)
}

func (l *LineSnapshotJSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		*l = LineSnapshotJSON{}
		return nil
	}
}

// Marker renders a row timestamp as the opaque concurrency token clients
// echo back. Equality of markers means equality of timestamps.
func Marker(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseMarker is the inverse of Marker.
func ParseMarker(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
