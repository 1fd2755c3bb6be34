package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/robocomic/internal/auth"
	"github.com/ent0n29/robocomic/internal/backend"
	"github.com/ent0n29/robocomic/internal/config"
	"github.com/ent0n29/robocomic/internal/observability"
	"github.com/ent0n29/robocomic/internal/playback"
	"github.com/ent0n29/robocomic/internal/protocol"
	"github.com/ent0n29/robocomic/internal/session"
	"github.com/ent0n29/robocomic/internal/shows"
	"github.com/ent0n29/robocomic/internal/store"
	"github.com/ent0n29/robocomic/internal/synth"
	"github.com/ent0n29/robocomic/internal/transcript"
	"github.com/ent0n29/robocomic/internal/ttscache"
)

type countingBackend struct {
	*backend.Mock
	synths      atomic.Int32
	judges      atomic.Int32
	unhealthy   atomic.Bool
	generateErr atomic.Pointer[backend.APIError]
}

func (b *countingBackend) GenerateShow(ctx context.Context, req backend.GenerateShowRequest) ([]transcript.Line, error) {
	if err := b.generateErr.Load(); err != nil {
		return nil, err
	}
	return b.Mock.GenerateShow(ctx, req)
}

func (b *countingBackend) Synthesize(ctx context.Context, req backend.TTSRequest) ([]byte, error) {
	b.synths.Add(1)
	return b.Mock.Synthesize(ctx, req)
}

func (b *countingBackend) JudgeShow(ctx context.Context, req backend.JudgeRequest) (backend.JudgeResult, error) {
	b.judges.Add(1)
	return b.Mock.JudgeShow(ctx, req)
}

func (b *countingBackend) Health(ctx context.Context) error {
	if b.unhealthy.Load() {
		return &backend.APIError{Message: backend.MsgNetworkError, Code: backend.CodeNetwork}
	}
	return nil
}

type countingIndex struct {
	ttscache.Index
	upserts atomic.Int32
}

func (i *countingIndex) Upsert(ctx context.Context, rec ttscache.Record) error {
	i.upserts.Add(1)
	return i.Index.Upsert(ctx, rec)
}

type countingBlobs struct {
	ttscache.BlobStore
	puts atomic.Int32
}

func (b *countingBlobs) Put(ctx context.Context, key string, data []byte) (string, error) {
	b.puts.Add(1)
	return b.BlobStore.Put(ctx, key, data)
}

type testEnv struct {
	ts    *httptest.Server
	api   *countingBackend
	index *countingIndex
	blobs *countingBlobs
}

var metricsSeq atomic.Int32

func newTestServer(t *testing.T) (*httptest.Server, *countingBackend) {
	t.Helper()
	env := newTestEnv(t)
	return env.ts, env.api
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	api := &countingBackend{Mock: backend.NewMock()}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d_%d", time.Now().UnixNano(), metricsSeq.Add(1)))
	audioStore := ttscache.NewMemoryBlobStore("/v1/audio")
	index := &countingIndex{Index: ttscache.NewMemoryIndex()}
	blobs := &countingBlobs{BlobStore: audioStore}
	remote := ttscache.NewRemote(index, blobs, ttscache.RemoteConfig{}, nil)
	gateway := synth.NewGateway(api, remote, audioStore, metrics, synth.Config{Timeout: 5 * time.Second}, nil)
	views := session.NewManager(time.Minute, func() *playback.Coordinator {
		return playback.NewCoordinator(remote, gateway, metrics, playback.Config{NoticeTTL: time.Minute}, nil)
	})
	srv := New(Deps{
		Config:   config.Defaults(),
		Views:    views,
		Shows:    shows.NewService(api, store.NewInMemoryStore(), metrics, nil),
		Backend:  api,
		Verifier: auth.Static{"tok-alice": "alice", "tok-bob": "bob"},
		Audio:    audioStore,
		Metrics:  metrics,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return testEnv{ts: ts, api: api, index: index, blobs: blobs}
}

func call(t *testing.T, method, url, token string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer res.Body.Close()
	if out != nil && res.StatusCode < 300 {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return res.StatusCode
}

func createView(t *testing.T, ts *httptest.Server, token string) session.ViewResponse {
	t.Helper()
	var view session.ViewResponse
	if code := call(t, http.MethodPost, ts.URL+"/v1/views", token, map[string]string{"lang": "en"}, &view); code != http.StatusCreated {
		t.Fatalf("create view status = %d, want %d", code, http.StatusCreated)
	}
	return view
}

func generate(t *testing.T, ts *httptest.Server, viewID, token string) session.ViewResponse {
	t.Helper()
	params := shows.GenerateParams{Comedian1: "janusz", Comedian2: "gen_z", Topic: "pierogi", NumRounds: 1}
	var view session.ViewResponse
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+viewID+"/generate", token, params, &view); code != http.StatusOK {
		t.Fatalf("generate status = %d, want %d", code, http.StatusOK)
	}
	return view
}

func TestGenerateAndPlayThroughCacheTiers(t *testing.T) {
	env := newTestEnv(t)
	ts, api := env.ts, env.api

	first := createView(t, ts, "")
	view := generate(t, ts, first.ID, "")
	if got := len(view.Playback.Entries); got != 4 {
		t.Fatalf("entries = %d, want 4", got)
	}
	if view.Playback.Transcript.Announcement == nil {
		t.Fatalf("announcement missing from segmented transcript")
	}

	var played session.ViewResponse
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+first.ID+"/play/1", "", nil, &played); code != http.StatusOK {
		t.Fatalf("play status = %d, want 200", code)
	}
	entry, _ := played.Playback.Entry(1)
	if entry.Status != playback.StatusPlaying || entry.AudioURL == "" {
		t.Fatalf("entry = %+v, want playing with audio url", entry)
	}
	if api.synths.Load() != 1 {
		t.Fatalf("synth calls = %d, want 1", api.synths.Load())
	}
	if env.blobs.puts.Load() != 1 {
		t.Fatalf("blob puts = %d, want 1", env.blobs.puts.Load())
	}
	if env.index.upserts.Load() != 1 {
		t.Fatalf("index upserts = %d, want 1", env.index.upserts.Load())
	}

	res, err := http.Get(ts.URL + entry.AudioURL)
	if err != nil {
		t.Fatalf("GET audio error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "audio/wav" {
		t.Fatalf("audio status = %d type = %q", res.StatusCode, res.Header.Get("Content-Type"))
	}
	if res.Header.Get("ETag") == "" {
		t.Fatalf("audio response missing ETag")
	}

	second := createView(t, ts, "")
	generate(t, ts, second.ID, "")
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+second.ID+"/play/1", "", nil, &played); code != http.StatusOK {
		t.Fatalf("second play status = %d, want 200", code)
	}
	if api.synths.Load() != 1 {
		t.Fatalf("synth calls = %d, want remote cache hit", api.synths.Load())
	}
	if env.blobs.puts.Load() != 1 || env.index.upserts.Load() != 1 {
		t.Fatalf("puts = %d upserts = %d after cache hit, want 1 and 1", env.blobs.puts.Load(), env.index.upserts.Load())
	}
}

func TestPlayRejectsBadLines(t *testing.T) {
	ts, _ := newTestServer(t)
	view := createView(t, ts, "")
	generate(t, ts, view.ID, "")

	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/play/99", "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("play unknown line status = %d, want 404", code)
	}
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/play/x", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("play bad line status = %d, want 400", code)
	}
}

func TestGenerateFailures(t *testing.T) {
	ts, api := newTestServer(t)
	view := createView(t, ts, "")

	bad := shows.GenerateParams{Comedian1: "janusz", Comedian2: "gen_z", NumRounds: 9}
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/generate", "", bad, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid generate status = %d, want 400", code)
	}

	generate(t, ts, view.ID, "")
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/generate", "", bad, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid generate status = %d, want 400", code)
	}
	var got session.ViewResponse
	call(t, http.MethodGet, ts.URL+"/v1/views/"+view.ID, "", nil, &got)
	if len(got.Playback.Entries) != 4 {
		t.Fatalf("entries = %d after rejected params, want 4 kept", len(got.Playback.Entries))
	}
	if got.Playback.Notice != nil {
		t.Fatalf("notice = %+v after rejected params, want nil", got.Playback.Notice)
	}

	api.unhealthy.Store(true)
	good := shows.GenerateParams{Comedian1: "janusz", Comedian2: "gen_z", NumRounds: 1}
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/generate", "", good, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy generate status = %d, want 503", code)
	}

	call(t, http.MethodGet, ts.URL+"/v1/views/"+view.ID, "", nil, &got)
	if got.Playback.Notice == nil || got.Playback.Notice.Message != shows.MsgBackendUnavailable {
		t.Fatalf("notice = %+v, want backend unavailable", got.Playback.Notice)
	}
	if len(got.Playback.Entries) != 4 {
		t.Fatalf("entries = %d after failed health check, want 4 kept", len(got.Playback.Entries))
	}

	var dismissed session.ViewResponse
	call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/dismiss-error", "", nil, &dismissed)
	if dismissed.Playback.Notice != nil {
		t.Fatalf("notice = %+v after dismiss, want nil", dismissed.Playback.Notice)
	}
}

func TestGenerateRateLimitedKeepsTranscript(t *testing.T) {
	ts, api := newTestServer(t)
	view := createView(t, ts, "")
	generate(t, ts, view.ID, "")

	api.generateErr.Store(&backend.APIError{Message: backend.MsgRateLimited, Status: http.StatusTooManyRequests})
	good := shows.GenerateParams{Comedian1: "janusz", Comedian2: "gen_z", NumRounds: 1}
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/generate", "", good, nil); code != http.StatusTooManyRequests {
		t.Fatalf("rate limited generate status = %d, want 429", code)
	}

	var got session.ViewResponse
	call(t, http.MethodGet, ts.URL+"/v1/views/"+view.ID, "", nil, &got)
	if len(got.Playback.Entries) != 4 {
		t.Fatalf("entries = %d after rate limit, want 4 kept", len(got.Playback.Entries))
	}
	if got.Playback.Notice == nil || got.Playback.Notice.Kind != playback.NoticeRateLimited || got.Playback.Notice.Status != http.StatusTooManyRequests {
		t.Fatalf("notice = %+v, want rate_limited with status 429", got.Playback.Notice)
	}
}

func TestGenerateBackendFailureClearsTranscript(t *testing.T) {
	ts, api := newTestServer(t)
	view := createView(t, ts, "")
	generate(t, ts, view.ID, "")

	api.generateErr.Store(&backend.APIError{Message: backend.MsgGenerateShowFailed, Status: http.StatusInternalServerError})
	good := shows.GenerateParams{Comedian1: "janusz", Comedian2: "gen_z", NumRounds: 1}
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/generate", "", good, nil); code < 500 {
		t.Fatalf("failed generate status = %d, want 5xx", code)
	}

	var got session.ViewResponse
	call(t, http.MethodGet, ts.URL+"/v1/views/"+view.ID, "", nil, &got)
	if len(got.Playback.Entries) != 0 {
		t.Fatalf("entries = %d after backend failure, want cleared", len(got.Playback.Entries))
	}
	if got.Playback.Notice == nil || got.Playback.Notice.Kind != playback.NoticeGenerateFailed {
		t.Fatalf("notice = %+v, want %s", got.Playback.Notice, playback.NoticeGenerateFailed)
	}
}

func TestSavedShowsAndOwnership(t *testing.T) {
	ts, _ := newTestServer(t)

	if code := call(t, http.MethodGet, ts.URL+"/v1/shows", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous list status = %d, want 401", code)
	}
	if code := call(t, http.MethodGet, ts.URL+"/v1/shows", "nope", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token list status = %d, want 401", code)
	}

	view := createView(t, ts, "tok-alice")
	generated := generate(t, ts, view.ID, "tok-alice")
	if generated.SelectedShowID == "" {
		t.Fatalf("SelectedShowID empty, want saved show")
	}
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/play/0", "tok-alice", nil, nil); code != http.StatusOK {
		t.Fatalf("play status = %d, want 200", code)
	}

	var list struct {
		Shows []store.ShowSummary `json:"shows"`
	}
	call(t, http.MethodGet, ts.URL+"/v1/shows", "tok-alice", nil, &list)
	if len(list.Shows) != 1 || !strings.HasPrefix(list.Shows[0].Title, "Janusz vs. Gen Z - ") {
		t.Fatalf("shows = %+v, want one titled show", list.Shows)
	}

	if code := call(t, http.MethodGet, ts.URL+"/v1/views/"+view.ID, "tok-bob", nil, nil); code != http.StatusNotFound {
		t.Fatalf("foreign view status = %d, want 404", code)
	}
	if code := call(t, http.MethodGet, ts.URL+"/v1/shows/"+list.Shows[0].ID, "tok-bob", nil, nil); code != http.StatusNotFound {
		t.Fatalf("foreign show status = %d, want 404", code)
	}

	other := createView(t, ts, "tok-alice")
	var selected session.ViewResponse
	req := map[string]string{"show_id": list.Shows[0].ID}
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+other.ID+"/select-show", "tok-alice", req, &selected); code != http.StatusOK {
		t.Fatalf("select-show status = %d, want 200", code)
	}
	if e, _ := selected.Playback.Entry(0); !e.Cached {
		t.Fatalf("entry 0 = %+v, want cached hint from earlier playback", e)
	}
	if e, _ := selected.Playback.Entry(1); e.Cached {
		t.Fatalf("entry 1 = %+v, want uncached", e)
	}

	var cleared session.ViewResponse
	call(t, http.MethodPost, ts.URL+"/v1/views/"+other.ID+"/deselect", "tok-alice", nil, &cleared)
	if cleared.SelectedShowID != "" || len(cleared.Playback.Entries) != 0 {
		t.Fatalf("deselect = %+v, want empty view", cleared.View)
	}

	if code := call(t, http.MethodDelete, ts.URL+"/v1/shows/"+list.Shows[0].ID, "tok-alice", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", code)
	}
}

func TestPersonaCatalogMergesCustomPersonas(t *testing.T) {
	ts, _ := newTestServer(t)
	persona := store.Persona{Name: "robot", Description: "beep boop"}
	var saved store.Persona
	if code := call(t, http.MethodPost, ts.URL+"/v1/personas", "tok-alice", persona, &saved); code != http.StatusCreated {
		t.Fatalf("create persona status = %d, want 201", code)
	}

	var catalog struct {
		Personas map[string]backend.PersonaInfo `json:"personas"`
	}
	call(t, http.MethodGet, ts.URL+"/v1/meta/personas", "tok-alice", nil, &catalog)
	if !catalog.Personas["robot"].Custom || catalog.Personas["janusz"].Description == "" {
		t.Fatalf("catalog = %+v, want backend and custom personas", catalog.Personas)
	}

	var anonymous struct {
		Personas map[string]backend.PersonaInfo `json:"personas"`
	}
	call(t, http.MethodGet, ts.URL+"/v1/meta/personas", "", nil, &anonymous)
	if _, ok := anonymous.Personas["robot"]; ok {
		t.Fatalf("anonymous catalog contains a custom persona")
	}

	if code := call(t, http.MethodDelete, ts.URL+"/v1/personas/"+saved.ID, "tok-alice", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete persona status = %d, want 204", code)
	}
}

func TestJudgeIsCachedPerTranscript(t *testing.T) {
	ts, api := newTestServer(t)
	view := createView(t, ts, "")

	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/judge", "", nil, nil); code != http.StatusConflict {
		t.Fatalf("judge without show status = %d, want 409", code)
	}
	generate(t, ts, view.ID, "")

	var verdict backend.JudgeResult
	for i := 0; i < 2; i++ {
		if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/judge", "", nil, &verdict); code != http.StatusOK {
			t.Fatalf("judge status = %d, want 200", code)
		}
	}
	if verdict.Winner == "" || api.judges.Load() != 1 {
		t.Fatalf("verdict = %+v judges = %d, want one backend call", verdict, api.judges.Load())
	}

	generate(t, ts, view.ID, "")
	call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/judge", "", nil, &verdict)
	if api.judges.Load() != 2 {
		t.Fatalf("judges = %d, want a fresh verdict for the new transcript", api.judges.Load())
	}
}

func TestViewWebSocketPlayback(t *testing.T) {
	ts, _ := newTestServer(t)
	view := createView(t, ts, "")
	generate(t, ts, view.ID, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/views/" + view.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial protocol.PlaybackState
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if initial.Type != protocol.TypePlaybackState || len(initial.State.Entries) != 4 {
		t.Fatalf("initial = %+v, want playback state with 4 entries", initial)
	}

	line := 2
	control := protocol.ClientControl{Type: protocol.TypeClientControl, ViewID: view.ID, Action: protocol.ActionPlay, LineIndex: &line}
	if err := conn.WriteJSON(control); err != nil {
		t.Fatalf("write control: %v", err)
	}
	for {
		var msg protocol.PlaybackState
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for playing state: %v", err)
		}
		if e, ok := msg.State.Entry(line); ok && e.Status == playback.StatusPlaying {
			break
		}
	}

	if err := conn.WriteJSON(map[string]any{"type": "client_control", "view_id": view.ID, "action": "rewind"}); err != nil {
		t.Fatalf("write bad control: %v", err)
	}
	for {
		var errEvent protocol.ErrorEvent
		if err := conn.ReadJSON(&errEvent); err != nil {
			t.Fatalf("read error event: %v", err)
		}
		if errEvent.Type != protocol.TypeErrorEvent {
			continue
		}
		if errEvent.Code != "invalid_client_message" {
			t.Fatalf("event = %+v, want invalid_client_message", errEvent)
		}
		break
	}
}

func TestEndViewAndHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	view := createView(t, ts, "")

	var ended session.View
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/end", "", nil, &ended); code != http.StatusOK {
		t.Fatalf("end status = %d, want 200", code)
	}
	if ended.Status != session.StatusEnded {
		t.Fatalf("status = %q, want ended", ended.Status)
	}
	if code := call(t, http.MethodPost, ts.URL+"/v1/views/"+view.ID+"/play/0", "", nil, nil); code != http.StatusGone {
		t.Fatalf("play on ended view status = %d, want 410", code)
	}

	var health map[string]any
	if code := call(t, http.MethodGet, ts.URL+"/healthz", "", nil, &health); code != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("health = %d %+v", code, health)
	}
	var perf observability.StageSnapshot
	if code := call(t, http.MethodGet, ts.URL+"/v1/perf/latency", "", nil, &perf); code != http.StatusOK {
		t.Fatalf("perf status = %d, want 200", code)
	}
}
