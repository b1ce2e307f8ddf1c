package share

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alexfinch7/lines/internal/scene"
	"github.com/alexfinch7/lines/internal/storage"
	"github.com/alexfinch7/lines/pkg/events"
)

// fakeStore is an in-memory Store with the same conditional-write semantics
// as the repository.
type fakeStore struct {
	scripts  map[string]*scene.Script
	lines    map[string][]scene.ScriptLine
	sessions map[string]*scene.ShareSession

	nextID      int
	updateCalls int
	afterList   func() // runs after ListLines, to stage races
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		scripts:  make(map[string]*scene.Script),
		lines:    make(map[string][]scene.ScriptLine),
		sessions: make(map[string]*scene.ShareSession),
	}
}

func (f *fakeStore) GetScript(_ context.Context, id string) (*scene.Script, error) {
	sc, ok := f.scripts[id]
	if !ok {
		return nil, fmt.Errorf("script %s: %w", id, scene.ErrNotFound)
	}
	cp := *sc
	return &cp, nil
}

func (f *fakeStore) ListLines(_ context.Context, scriptID string) ([]scene.ScriptLine, error) {
	out := make([]scene.ScriptLine, len(f.lines[scriptID]))
	copy(out, f.lines[scriptID])
	if f.afterList != nil {
		f.afterList()
	}
	return out, nil
}

func (f *fakeStore) UpdateLineAudio(_ context.Context, lineID, audioURL string, expect, newMarker time.Time) (bool, error) {
	f.updateCalls++
	for scriptID, lines := range f.lines {
		for i := range lines {
			if lines[i].ID != lineID {
				continue
			}
			if !lines[i].UpdatedAt.Valid || !lines[i].UpdatedAt.Time.Equal(expect) {
				return false, nil
			}
			f.lines[scriptID][i].AudioURL = audioURL
			f.lines[scriptID][i].UpdatedAt = sql.NullTime{Time: newMarker, Valid: true}
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) FinalizeScript(_ context.Context, scriptID string, marker time.Time) error {
	sc, ok := f.scripts[scriptID]
	if !ok {
		return fmt.Errorf("script %s: %w", scriptID, scene.ErrNotFound)
	}
	sc.Sharable = false
	sc.NeedTrim = true
	sc.UpdatedAt = sql.NullTime{Time: marker, Valid: true}
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*scene.ShareSession, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, scene.ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeStore) LatestSessionByScene(_ context.Context, sceneID string) (*scene.ShareSession, error) {
	var latest *scene.ShareSession
	for _, sess := range f.sessions {
		if sess.SceneID == sceneID {
			latest = sess
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("scene %s: %w", sceneID, scene.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) CreateSession(_ context.Context, sess *scene.ShareSession) error {
	if sess.ID == "" {
		f.nextID++
		sess.ID = fmt.Sprintf("sess-%d", f.nextID)
	}
	cp := *sess
	f.sessions[sess.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateSessionReaderLines(_ context.Context, id string, lines scene.LineSnapshotJSON) error {
	sess, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, scene.ErrNotFound)
	}
	sess.ReaderLines = lines
	return nil
}

func (f *fakeStore) MarkSessionCompleted(_ context.Context, id string) error {
	sess, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, scene.ErrNotFound)
	}
	sess.Status = scene.SessionCompleted
	return nil
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedScene(f *fakeStore) {
	f.scripts["s1"] = &scene.Script{
		ID:        "s1",
		UserID:    "u1",
		Title:     "Balcony Scene",
		Sharable:  true,
		UpdatedAt: sql.NullTime{Time: t0, Valid: true},
	}
	f.lines["s1"] = []scene.ScriptLine{
		{ID: "l1", ScriptID: "s1", RawText: "But soft!", OrderIndex: sql.NullInt64{Int64: 0, Valid: true},
			IsCueLine: true, UpdatedAt: sql.NullTime{Time: t0, Valid: true}},
		{ID: "l2", ScriptID: "s1", RawText: "What light through yonder window breaks?",
			OrderIndex: sql.NullInt64{Int64: 1, Valid: true}, UpdatedAt: sql.NullTime{Time: t0, Valid: true}},
	}
}

type fixture struct {
	store *fakeStore
	blobs *storage.MemoryStore
	pub   *events.Publisher
	svc   *Service
	bus   <-chan events.Envelope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeStore()
	seedScene(store)
	blobs := storage.NewMemoryStore()
	pub := events.NewPublisher(nil, "lines-test", "")
	bus := pub.Subscribe("test", 16)
	t.Cleanup(func() { pub.Unsubscribe("test") })
	svc := NewService(store, blobs, pub, Options{
		RecordingsBucket: "reader-recordings",
		LinesBucket:      "lines",
		CommitTimeout:    5 * time.Second,
	})
	return &fixture{store: store, blobs: blobs, pub: pub, svc: svc, bus: bus}
}

// uploadTake stages a transient recording and returns its public URL.
func (fx *fixture) uploadTake(t *testing.T, sessionID, lineID string) string {
	t.Helper()
	url, err := fx.svc.UploadRecording(context.Background(), sessionID, lineID, "reader",
		[]byte("webm-bytes-"+lineID), "audio/webm")
	if err != nil {
		t.Fatalf("upload take: %v", err)
	}
	return url
}

func (fx *fixture) markers() map[string]string {
	return map[string]string{
		"l1": scene.Marker(t0),
		"l2": scene.Marker(t0),
	}
}

func drainEvent(t *testing.T, bus <-chan events.Envelope, want events.EventType) events.Envelope {
	t.Helper()
	select {
	case env := <-bus:
		if env.Type != want {
			t.Fatalf("event type = %q, want %q", env.Type, want)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("no %q event", want)
		return events.Envelope{}
	}
}

func TestCreateSessionIsIdempotentPerScene(t *testing.T) {
	fx := newFixture(t)

	sess, created, err := fx.svc.CreateSession(context.Background(), "s1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Error("first create should report created")
	}
	if sess.Title != "Balcony Scene" {
		t.Errorf("title = %q, want script title fallback", sess.Title)
	}
	if sess.UserID != "u1" {
		t.Errorf("owner = %q, want script owner", sess.UserID)
	}
	if len(sess.ActorLines) != 1 || len(sess.ReaderLines) != 1 {
		t.Errorf("cached partition = %d/%d, want 1 actor and 1 reader line",
			len(sess.ActorLines), len(sess.ReaderLines))
	}
	drainEvent(t, fx.bus, events.SessionCreated)

	again, created, err := fx.svc.CreateSession(context.Background(), "s1", "ignored")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Error("second create must return the existing session")
	}
	if again.ID != sess.ID {
		t.Errorf("session id = %q, want %q", again.ID, sess.ID)
	}
}

func TestCreateSessionUnknownScene(t *testing.T) {
	fx := newFixture(t)
	_, _, err := fx.svc.CreateSession(context.Background(), "nope", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHydrateRederivesLayoutAndLayersOverrides(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")

	takeURL := fx.uploadTake(t, sess.ID, "l2")
	if err := fx.svc.SaveReaderRecording(context.Background(), sess.ID, "l2", takeURL); err != nil {
		t.Fatalf("save recording: %v", err)
	}

	// The owner edits a line after the session was cached.
	fx.store.lines["s1"][1].RawText = "What light breaks?"

	h, err := fx.svc.Hydrate(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if len(h.Session.ReaderLines) != 1 {
		t.Fatalf("reader lines = %d, want 1", len(h.Session.ReaderLines))
	}
	got := h.Session.ReaderLines[0]
	if got.Text != "What light breaks?" {
		t.Errorf("text = %q, want the edited canonical text, not the cache", got.Text)
	}
	if got.AudioURL != takeURL {
		t.Errorf("audio = %q, want the session override %q", got.AudioURL, takeURL)
	}
	if h.SceneVersion == "" || len(h.LineUpdatedAt) != 2 {
		t.Errorf("version/markers = %q/%d, want fingerprint and 2 markers", h.SceneVersion, len(h.LineUpdatedAt))
	}
	if h.SceneUpdatedAt != scene.Marker(t0) {
		t.Errorf("sceneUpdatedAt = %q, want %q", h.SceneUpdatedAt, scene.Marker(t0))
	}
}

func TestHydrateDroppedLineDisappearsDespiteCache(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")

	// l2 was the only reader line; the owner deletes it.
	fx.store.lines["s1"] = fx.store.lines["s1"][:1]

	h, err := fx.svc.Hydrate(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if len(h.Session.ReaderLines) != 0 {
		t.Errorf("reader lines = %+v, want deleted line gone", h.Session.ReaderLines)
	}
}

func TestHydrateRevokedSharing(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")
	fx.store.scripts["s1"].Sharable = false

	_, err := fx.svc.Hydrate(context.Background(), sess.ID)
	if !errors.Is(err, ErrNotSharable) {
		t.Errorf("err = %v, want ErrNotSharable", err)
	}
}

func TestCommitHappyPath(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")
	drainEvent(t, fx.bus, events.SessionCreated)
	takeURL := fx.uploadTake(t, sess.ID, "l2")

	err := fx.svc.Commit(context.Background(), CommitRequest{
		SessionID:      sess.ID,
		SceneUpdatedAt: scene.Marker(t0),
		LineTimestamps: fx.markers(),
		Updates:        []CommitUpdate{{LineID: "l2", AudioURL: takeURL}},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	line := fx.store.lines["s1"][1]
	if !strings.Contains(line.AudioURL, "lines/u1/s1/l2.wav") {
		t.Errorf("line audio = %q, want durable copy under lines/u1/s1/l2.wav", line.AudioURL)
	}
	if line.UpdatedAt.Time.Equal(t0) {
		t.Error("committed line marker should advance")
	}

	audio, err := fx.blobs.Download(context.Background(), "lines", "u1/s1/l2.wav")
	if err != nil || string(audio) != "webm-bytes-l2" {
		t.Errorf("durable copy = %q, %v; want migrated bytes", audio, err)
	}

	script := fx.store.scripts["s1"]
	if script.Sharable {
		t.Error("commit must close sharing")
	}
	if !script.NeedTrim {
		t.Error("commit must flag the new audio for trimming")
	}
	if !script.UpdatedAt.Time.Equal(fx.store.lines["s1"][1].UpdatedAt.Time) {
		t.Error("script and line markers should share the commit timestamp")
	}
	drainEvent(t, fx.bus, events.SessionCommitted)
}

func TestCommitValidation(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")

	cases := []struct {
		name string
		req  CommitRequest
	}{
		{"missing session", CommitRequest{
			LineTimestamps: fx.markers(),
			Updates:        []CommitUpdate{{LineID: "l2", AudioURL: "x"}}}},
		{"no updates", CommitRequest{SessionID: sess.ID, LineTimestamps: fx.markers()}},
		{"no timestamps", CommitRequest{SessionID: sess.ID,
			Updates: []CommitUpdate{{LineID: "l2", AudioURL: "x"}}}},
		{"timestamp missing for updated line", CommitRequest{SessionID: sess.ID,
			LineTimestamps: map[string]string{"l1": scene.Marker(t0), "l2": ""},
			Updates:        []CommitUpdate{{LineID: "l2", AudioURL: "x"}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := fx.svc.Commit(context.Background(), tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) && !errors.Is(err, ErrConflict) {
				t.Errorf("err = %v, want validation or conflict", err)
			}
			if fx.store.updateCalls != 0 {
				t.Error("rejected commit must not touch any row")
			}
		})
	}
}

func TestCommitRevokedSharing(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")
	takeURL := fx.uploadTake(t, sess.ID, "l2")
	fx.store.scripts["s1"].Sharable = false

	err := fx.svc.Commit(context.Background(), CommitRequest{
		SessionID:      sess.ID,
		LineTimestamps: fx.markers(),
		Updates:        []CommitUpdate{{LineID: "l2", AudioURL: takeURL}},
	})
	if !errors.Is(err, ErrNotSharable) {
		t.Errorf("err = %v, want ErrNotSharable", err)
	}
}

func TestCommitAggregateMarkerMismatch(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")
	takeURL := fx.uploadTake(t, sess.ID, "l2")

	err := fx.svc.Commit(context.Background(), CommitRequest{
		SessionID:      sess.ID,
		SceneUpdatedAt: scene.Marker(t0.Add(-time.Hour)),
		LineTimestamps: fx.markers(),
		Updates:        []CommitUpdate{{LineID: "l2", AudioURL: takeURL}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if fx.store.updateCalls != 0 {
		t.Error("stale aggregate marker must abort before any write")
	}
}

// One stale marker on an untouched line conflicts the whole commit even
// when every updated line is current.
func TestCommitStaleMarkerOnUntouchedLine(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")
	takeURL := fx.uploadTake(t, sess.ID, "l1")

	stale := fx.markers()
	stale["l2"] = scene.Marker(t0.Add(-time.Minute))

	err := fx.svc.Commit(context.Background(), CommitRequest{
		SessionID:      sess.ID,
		LineTimestamps: stale,
		Updates:        []CommitUpdate{{LineID: "l1", AudioURL: takeURL}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if fx.store.updateCalls != 0 {
		t.Error("conflict must abort before any write")
	}
	if fx.store.lines["s1"][0].AudioURL != "" {
		t.Error("l1 must be untouched")
	}
}

func TestCommitLineSetChanged(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")
	takeURL := fx.uploadTake(t, sess.ID, "l2")

	// The owner adds a line the client has never seen.
	fx.store.lines["s1"] = append(fx.store.lines["s1"], scene.ScriptLine{
		ID: "l3", ScriptID: "s1", RawText: "New line.",
		UpdatedAt: sql.NullTime{Time: t0, Valid: true},
	})

	err := fx.svc.Commit(context.Background(), CommitRequest{
		SessionID:      sess.ID,
		LineTimestamps: fx.markers(),
		Updates:        []CommitUpdate{{LineID: "l2", AudioURL: takeURL}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

// The row changes between the precondition read and the conditional write.
// The zero-rows-affected path is the last line of defense.
func TestCommitRaceLosesAtConditionalWrite(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")
	takeURL := fx.uploadTake(t, sess.ID, "l2")

	fx.store.afterList = func() {
		fx.store.lines["s1"][1].UpdatedAt = sql.NullTime{Time: t0.Add(time.Second), Valid: true}
		fx.store.afterList = nil
	}

	err := fx.svc.Commit(context.Background(), CommitRequest{
		SessionID:      sess.ID,
		LineTimestamps: fx.markers(),
		Updates:        []CommitUpdate{{LineID: "l2", AudioURL: takeURL}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict from the conditional write", err)
	}
	if fx.store.scripts["s1"].NeedTrim {
		t.Error("conflicted commit must not finalize the script")
	}
}

func TestCommitRejectsForeignBucketURL(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")

	err := fx.svc.Commit(context.Background(), CommitRequest{
		SessionID:      sess.ID,
		LineTimestamps: fx.markers(),
		Updates:        []CommitUpdate{{LineID: "l2", AudioURL: "memory://other-bucket/x/y"}},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want ValidationError for foreign bucket", err)
	}
}

func TestCommitMissingRecordingIsUpstreamError(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")

	// URL shape is valid but the object was never uploaded.
	missing := fx.blobs.PublicURL("reader-recordings", "reader/"+sess.ID+"/l2.webm")
	err := fx.svc.Commit(context.Background(), CommitRequest{
		SessionID:      sess.ID,
		LineTimestamps: fx.markers(),
		Updates:        []CommitUpdate{{LineID: "l2", AudioURL: missing}},
	})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}

func TestUploadRecordingValidatesRole(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.UploadRecording(context.Background(), "sess-1", "l2", "narrator", []byte("x"), "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want ValidationError for unknown role", err)
	}

	url, err := fx.svc.UploadRecording(context.Background(), "sess-1", "l2", "reader", []byte("x"), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.Contains(url, "reader-recordings/reader/sess-1/l2.webm") {
		t.Errorf("url = %q, want role/session/line path", url)
	}
}

func TestMarkDone(t *testing.T) {
	fx := newFixture(t)
	sess, _, _ := fx.svc.CreateSession(context.Background(), "s1", "")
	drainEvent(t, fx.bus, events.SessionCreated)

	if err := fx.svc.MarkDone(context.Background(), sess.ID); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if fx.store.sessions[sess.ID].Status != scene.SessionCompleted {
		t.Errorf("status = %q, want completed", fx.store.sessions[sess.ID].Status)
	}
	env := drainEvent(t, fx.bus, events.SessionCompleted)
	if env.SessionID != sess.ID {
		t.Errorf("event session = %q, want %q", env.SessionID, sess.ID)
	}
}
