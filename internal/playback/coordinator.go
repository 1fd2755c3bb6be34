package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/robocomic/internal/backend"
	"github.com/ent0n29/robocomic/internal/observability"
	"github.com/ent0n29/robocomic/internal/synth"
	"github.com/ent0n29/robocomic/internal/transcript"
	"github.com/ent0n29/robocomic/internal/ttscache"
)

// RemoteCache is the shared cache tier consulted after the session cache.
type RemoteCache interface {
	Lookup(ctx context.Context, key string) (string, bool)
	Known(ctx context.Context, keys []string) map[string]bool
}

// Producer synthesizes and stores audio for a cache miss.
type Producer interface {
	Produce(ctx context.Context, req synth.Request) (synth.Result, error)
}

// Observer receives cache, transition and stage samples.
type Observer interface {
	ObserveCacheLookup(tier string, hit bool)
	ObservePlayback(from, to string)
	ObserveStage(stage string, d time.Duration)
	ObserveIndicator(name string)
}

type Config struct {
	// NoticeTTL is how long a notice stays up before it dismisses itself.
	NoticeTTL time.Duration
	// ConfirmStart parks resolved audio in ready until Started is called,
	// for clients whose autoplay may be blocked.
	ConfirmStart bool
	Now          func() time.Time
}

// Input is the transcript a view displays together with its audio settings.
type Input struct {
	Lines  []transcript.Line
	Lang   string
	Voices backend.VoiceIDs
}

type line struct {
	entry   Entry
	content string
	voice   string
}

// Coordinator is the playback state machine of one transcript view. At most
// one line is loading, ready or playing; the most recent Play wins.
type Coordinator struct {
	remote   RemoteCache
	producer Producer
	observer Observer
	cfg      Config
	logger   *slog.Logger
	session  *ttscache.SessionCache

	mu         sync.Mutex
	version    uint64
	generation uint64
	ticket     uint64
	lang       string
	segmented  transcript.Segmented
	lines      []line
	active     int
	// activeTicket identifies the Play call that owns the active slot.
	activeTicket uint64
	notice       *Notice
	noticeSeq    uint64
	noticeTimer  *time.Timer

	listenerSeq int
	listeners   map[int]func(State)
}

func NewCoordinator(remote RemoteCache, producer Producer, observer Observer, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = 8 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		remote:    remote,
		producer:  producer,
		observer:  observer,
		cfg:       cfg,
		logger:    logger,
		session:   ttscache.NewSessionCache(),
		segmented: transcript.Segment(nil),
		active:    NoActiveLine,
		listeners: make(map[int]func(State)),
	}
}

// Session exposes the view-local cache.
func (c *Coordinator) Session() *ttscache.SessionCache { return c.session }

// OnChange registers fn to receive every state change. The returned func
// unregisters it.
func (c *Coordinator) OnChange(fn func(State)) func() {
	c.mu.Lock()
	c.listenerSeq++
	id := c.listenerSeq
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Reset replaces the transcript. Every entry returns to idle, the active
// slot and session cache are cleared and in-flight plays become stale.
func (c *Coordinator) Reset(in Input) {
	c.mu.Lock()
	c.generation++
	c.lang = in.Lang
	c.segmented = transcript.Segment(in.Lines)
	entries := c.segmented.Entries()
	c.lines = make([]line, len(entries))
	for i, e := range entries {
		voice := in.Voices.For(e.Speaker)
		c.lines[i] = line{
			content: e.Line.Content,
			voice:   voice,
			entry: Entry{
				LineIndex: e.Index,
				Status:    StatusIdle,
				Playable:  e.Playable(),
				CacheKey:  ttscache.DeriveKey(e.Line.Content, in.Lang, voice),
			},
		}
	}
	c.active = NoActiveLine
	c.activeTicket = 0
	c.session.Clear()
	state := c.changedLocked()
	c.mu.Unlock()
	c.publish(state)
}

// Play resolves audio for line idx through the session cache, the remote
// cache and finally synthesis. Playing a line that is already loading, ready
// or playing is a no-op. A result that arrives after a newer Play, a Stop or
// a Reset populates the caches but leaves the state alone.
func (c *Coordinator) Play(ctx context.Context, idx int) error {
	c.mu.Lock()
	if idx < 0 || idx >= len(c.lines) {
		c.mu.Unlock()
		return ErrUnknownLine
	}
	ln := c.lines[idx]
	if !ln.entry.Playable {
		c.mu.Unlock()
		return ErrNotPlayable
	}
	if ln.entry.Status != StatusIdle {
		c.mu.Unlock()
		return nil
	}
	c.releaseActiveLocked()
	c.ticket++
	ticket, generation := c.ticket, c.generation
	c.active, c.activeTicket = idx, ticket
	c.setStatusLocked(idx, StatusLoading, "")
	lang := c.lang
	state := c.changedLocked()
	c.mu.Unlock()
	c.publish(state)

	ctx, span := observability.StartSpan(ctx, "playback.play")
	defer span.End()
	start := time.Now()
	url, err := c.resolve(ctx, ln, lang)

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		c.indicator("stale_result_dropped")
		return nil
	}
	if err == nil {
		c.session.Set(ln.entry.CacheKey, url)
		c.lines[idx].entry.Cached = true
	}
	if c.activeTicket != ticket || c.active != idx {
		state := c.changedLocked()
		c.mu.Unlock()
		c.publish(state)
		c.indicator("stale_result_dropped")
		return nil
	}
	if err != nil {
		c.setStatusLocked(idx, StatusIdle, "")
		c.active = NoActiveLine
		if !errors.Is(err, context.Canceled) {
			c.setNoticeLocked(noticeForSynthesis(err))
		}
		state := c.changedLocked()
		c.mu.Unlock()
		c.publish(state)
		return err
	}
	next := StatusPlaying
	if c.cfg.ConfirmStart {
		next = StatusReady
	}
	c.setStatusLocked(idx, next, url)
	state = c.changedLocked()
	c.mu.Unlock()
	c.publish(state)
	c.stage("play_to_ready", time.Since(start))
	return nil
}

func (c *Coordinator) resolve(ctx context.Context, ln line, lang string) (string, error) {
	key := ln.entry.CacheKey
	start := time.Now()
	if url, ok := c.session.Get(key); ok {
		c.lookup("session", true)
		c.stage("session_cache_hit", time.Since(start))
		return url, nil
	}
	c.lookup("session", false)

	start = time.Now()
	url, ok := c.remote.Lookup(ctx, key)
	c.stage("remote_lookup", time.Since(start))
	c.lookup("remote", ok)
	if ok {
		return url, nil
	}

	res, err := c.producer.Produce(ctx, synth.Request{
		Key:     key,
		Content: ln.content,
		Lang:    lang,
		Voice:   ln.voice,
	})
	if err != nil {
		observability.Logger(ctx).WarnContext(ctx, "speech synthesis failed", "line_index", ln.entry.LineIndex, "error", err)
		return "", err
	}
	return res.URL, nil
}

// Started confirms that the client began playing a ready line.
func (c *Coordinator) Started(idx int) error {
	c.mu.Lock()
	if idx < 0 || idx >= len(c.lines) {
		c.mu.Unlock()
		return ErrUnknownLine
	}
	if c.lines[idx].entry.Status != StatusReady {
		c.mu.Unlock()
		return nil
	}
	c.setStatusLocked(idx, StatusPlaying, c.lines[idx].entry.AudioURL)
	state := c.changedLocked()
	c.mu.Unlock()
	c.publish(state)
	return nil
}

// Ended moves a playing line back to idle when its audio finished.
func (c *Coordinator) Ended(idx int) error {
	c.mu.Lock()
	if idx < 0 || idx >= len(c.lines) {
		c.mu.Unlock()
		return ErrUnknownLine
	}
	if c.lines[idx].entry.Status != StatusPlaying {
		c.mu.Unlock()
		return nil
	}
	c.setStatusLocked(idx, StatusIdle, "")
	if c.active == idx {
		c.active = NoActiveLine
	}
	state := c.changedLocked()
	c.mu.Unlock()
	c.publish(state)
	return nil
}

// Stop releases whatever holds the active slot.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.active == NoActiveLine {
		c.mu.Unlock()
		return
	}
	c.releaseActiveLocked()
	state := c.changedLocked()
	c.mu.Unlock()
	c.publish(state)
}

// RefreshCached marks lines whose audio is already in the session or remote
// cache, without fetching any audio.
func (c *Coordinator) RefreshCached(ctx context.Context) {
	c.mu.Lock()
	generation := c.generation
	keys := make([]string, 0, len(c.lines))
	for _, ln := range c.lines {
		if ln.entry.Playable {
			keys = append(keys, ln.entry.CacheKey)
		}
	}
	c.mu.Unlock()
	if len(keys) == 0 {
		return
	}

	known := c.remote.Known(ctx, keys)

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		return
	}
	changed := false
	for i := range c.lines {
		e := &c.lines[i].entry
		if e.Cached || !e.Playable {
			continue
		}
		_, local := c.session.Get(e.CacheKey)
		if local || known[e.CacheKey] {
			e.Cached = true
			changed = true
		}
	}
	if !changed {
		c.mu.Unlock()
		return
	}
	state := c.changedLocked()
	c.mu.Unlock()
	c.publish(state)
}

// SetNotice shows a banner that dismisses itself after the configured TTL.
func (c *Coordinator) SetNotice(kind, message string, status int) {
	c.mu.Lock()
	c.setNoticeLocked(Notice{Kind: kind, Message: message, Status: status})
	state := c.changedLocked()
	c.mu.Unlock()
	c.publish(state)
}

// DismissNotice clears the current banner.
func (c *Coordinator) DismissNotice() {
	c.mu.Lock()
	if c.notice == nil {
		c.mu.Unlock()
		return
	}
	c.clearNoticeLocked()
	state := c.changedLocked()
	c.mu.Unlock()
	c.publish(state)
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close stops the notice timer and drops listeners.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
		c.noticeTimer = nil
	}
	clear(c.listeners)
	c.session.Clear()
}

func (c *Coordinator) releaseActiveLocked() {
	if c.active == NoActiveLine {
		return
	}
	c.setStatusLocked(c.active, StatusIdle, "")
	c.active = NoActiveLine
}

func (c *Coordinator) setStatusLocked(idx int, next Status, url string) {
	e := &c.lines[idx].entry
	if e.Status != next && c.observer != nil {
		c.observer.ObservePlayback(string(e.Status), string(next))
	}
	e.Status = next
	e.AudioURL = url
}

func (c *Coordinator) setNoticeLocked(n Notice) {
	c.noticeSeq++
	n.ID = c.noticeSeq
	n.ExpiresAt = c.cfg.Now().Add(c.cfg.NoticeTTL)
	c.notice = &n
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
	}
	id := n.ID
	c.noticeTimer = time.AfterFunc(c.cfg.NoticeTTL, func() { c.expireNotice(id) })
}

func (c *Coordinator) clearNoticeLocked() {
	c.notice = nil
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
		c.noticeTimer = nil
	}
}

func (c *Coordinator) expireNotice(id uint64) {
	c.mu.Lock()
	if c.notice == nil || c.notice.ID != id {
		c.mu.Unlock()
		return
	}
	c.notice = nil
	c.noticeTimer = nil
	state := c.changedLocked()
	c.mu.Unlock()
	c.publish(state)
}

// changedLocked bumps the version and returns the state to publish once the
// lock is released.
func (c *Coordinator) changedLocked() State {
	c.version++
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() State {
	entries := make([]Entry, len(c.lines))
	for i, ln := range c.lines {
		entries[i] = ln.entry
	}
	var notice *Notice
	if c.notice != nil && c.cfg.Now().Before(c.notice.ExpiresAt) {
		n := *c.notice
		notice = &n
	}
	return State{
		Version:    c.version,
		Generation: c.generation,
		Lang:       c.lang,
		Transcript: c.segmented,
		Entries:    entries,
		ActiveLine: c.active,
		Notice:     notice,
	}
}

func (c *Coordinator) publish(state State) {
	c.mu.Lock()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}

func (c *Coordinator) lookup(tier string, hit bool) {
	if c.observer != nil {
		c.observer.ObserveCacheLookup(tier, hit)
	}
}

func (c *Coordinator) stage(name string, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveStage(name, d)
	}
}

func (c *Coordinator) indicator(name string) {
	if c.observer != nil {
		c.observer.ObserveIndicator(name)
	}
}

func noticeForSynthesis(err error) Notice {
	status := 0
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.Status
	}
	if errors.Is(err, synth.ErrRateLimited) {
		return Notice{Kind: NoticeTTSRateLimited, Message: MsgTTSRateLimited, Status: status}
	}
	return Notice{Kind: NoticeTTSUnavailable, Message: MsgTTSUnavailable, Status: status}
}
