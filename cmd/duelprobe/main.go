// Command duelprobe drives a running robocomic server through one duel and
// reports how long each line takes to become playable, pass by pass.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/robocomic/internal/audio"
	"github.com/ent0n29/robocomic/internal/playback"
	"github.com/ent0n29/robocomic/internal/protocol"
	"github.com/ent0n29/robocomic/internal/session"
	"github.com/ent0n29/robocomic/internal/shows"
)

type options struct {
	baseURL     string
	token       string
	comedian1   string
	comedian2   string
	topic       string
	lang        string
	rounds      int
	passes      int
	lineTimeout time.Duration
	fetchAudio  bool
	verbose     bool
}

type lineResult struct {
	Pass      int
	LineIndex int
	// CachedBefore is the entry's cached hint at the moment play was sent.
	CachedBefore bool
	Latency      time.Duration
	AudioBytes   int
	ContentType  string
	Err          error
}

type stream struct {
	states chan playback.State
	events chan protocol.ErrorEvent
	errs   chan error
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "duelprobe: %v\n", err)
		os.Exit(2)
	}
	results, err := run(context.Background(), cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "duelprobe: %v\n", err)
		os.Exit(1)
	}
	printSummary(os.Stdout, results, cfg.passes)
	for _, r := range results {
		if r.Err != nil {
			os.Exit(1)
		}
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var lineTimeoutMS int
	fs := flag.NewFlagSet("duelprobe", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "robocomic base URL")
	fs.StringVar(&cfg.token, "token", "", "optional bearer token of a signed-in user")
	fs.StringVar(&cfg.comedian1, "comedian1", "janusz", "first comedian persona")
	fs.StringVar(&cfg.comedian2, "comedian2", "gen_z", "second comedian persona")
	fs.StringVar(&cfg.topic, "topic", "", "duel topic (empty for a classic duel)")
	fs.StringVar(&cfg.lang, "lang", "en", "duel language (en|pl)")
	fs.IntVar(&cfg.rounds, "rounds", 1, "number of rounds to generate")
	fs.IntVar(&cfg.passes, "passes", 2, "how many times to play every line; later passes should hit the caches")
	fs.IntVar(&lineTimeoutMS, "line-timeout-ms", 90000, "timeout waiting for a line to become ready")
	fs.BoolVar(&cfg.fetchAudio, "fetch-audio", true, "download each audio URL and check its format")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print per-line progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.rounds < shows.MinRounds || cfg.rounds > shows.MaxRounds {
		return options{}, fmt.Errorf("rounds must be in [%d,%d]", shows.MinRounds, shows.MaxRounds)
	}
	if cfg.passes <= 0 {
		return options{}, fmt.Errorf("passes must be > 0")
	}
	if lineTimeoutMS < 1000 {
		lineTimeoutMS = 1000
	}
	cfg.lineTimeout = time.Duration(lineTimeoutMS) * time.Millisecond
	return cfg, nil
}

func run(ctx context.Context, cfg options, out io.Writer) ([]lineResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	client := &http.Client{Timeout: 3 * time.Minute}
	var view session.ViewResponse
	if err := call(ctx, client, cfg, http.MethodPost, "/v1/views", session.CreateRequest{Lang: cfg.lang}, http.StatusCreated, &view); err != nil {
		return nil, fmt.Errorf("create view: %w", err)
	}
	viewID := view.ID
	defer func() {
		_ = call(context.Background(), client, cfg, http.MethodPost, "/v1/views/"+url.PathEscape(viewID)+"/end", nil, http.StatusOK, nil)
	}()

	params := shows.GenerateParams{
		Comedian1: cfg.comedian1,
		Comedian2: cfg.comedian2,
		Lang:      cfg.lang,
		Topic:     cfg.topic,
		NumRounds: cfg.rounds,
	}
	start := time.Now()
	if err := call(ctx, client, cfg, http.MethodPost, "/v1/views/"+url.PathEscape(viewID)+"/generate", params, http.StatusOK, &view); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if cfg.verbose {
		fmt.Fprintf(out, "duelprobe: view=%s generated %d lines in %s\n", viewID, len(view.Playback.Entries), time.Since(start).Round(time.Millisecond))
	}

	wsURL, err := wsURLForView(cfg.baseURL, viewID, cfg.token)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()
	st := stream{
		states: make(chan playback.State, 64),
		events: make(chan protocol.ErrorEvent, 8),
		errs:   make(chan error, 1),
	}
	go readLoop(conn, st)

	latest := view.Playback
	var results []lineResult
	for pass := 1; pass <= cfg.passes; pass++ {
		for _, e := range latest.Entries {
			if !e.Playable {
				continue
			}
			res := playLine(ctx, conn, client, cfg, viewID, st, &latest, e.LineIndex)
			res.Pass = pass
			results = append(results, res)
			if cfg.verbose {
				printLine(out, res)
			}
			if res.Err != nil && ctx.Err() != nil {
				return results, ctx.Err()
			}
		}
	}
	return results, nil
}

// playLine plays one line over the websocket and waits until it is ready or
// a notice reports the failure. The line is then acknowledged as played.
func playLine(ctx context.Context, conn *websocket.Conn, client *http.Client, cfg options, viewID string, st stream, latest *playback.State, idx int) lineResult {
	res := lineResult{LineIndex: idx}
	drainStates(st, latest)
	if e, ok := latest.Entry(idx); ok {
		res.CachedBefore = e.Cached
	}
	var lastNotice uint64
	if latest.Notice != nil {
		lastNotice = latest.Notice.ID
	}

	start := time.Now()
	if err := sendControl(conn, viewID, protocol.ActionPlay, idx); err != nil {
		res.Err = fmt.Errorf("send play: %w", err)
		return res
	}

	timer := time.NewTimer(cfg.lineTimeout)
	defer timer.Stop()
	var ready playback.Entry
wait:
	for {
		select {
		case s := <-st.states:
			*latest = s
			if s.Notice != nil && s.Notice.ID > lastNotice {
				res.Err = fmt.Errorf("%s: %s", s.Notice.Kind, s.Notice.Message)
				return res
			}
			e, ok := s.Entry(idx)
			if ok && (e.Status == playback.StatusReady || e.Status == playback.StatusPlaying) && e.AudioURL != "" {
				ready = e
				break wait
			}
		case ev := <-st.events:
			res.Err = fmt.Errorf("%s: %s", ev.Code, ev.Detail)
			return res
		case err := <-st.errs:
			res.Err = fmt.Errorf("ws read: %w", err)
			return res
		case <-timer.C:
			res.Err = fmt.Errorf("timeout after %s", cfg.lineTimeout)
			return res
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		}
	}
	res.Latency = time.Since(start)

	if cfg.fetchAudio {
		n, contentType, err := fetchAudio(ctx, client, cfg.baseURL, ready.AudioURL)
		if err != nil {
			res.Err = fmt.Errorf("fetch audio: %w", err)
			return res
		}
		res.AudioBytes, res.ContentType = n, contentType
	}
	if err := sendControl(conn, viewID, protocol.ActionStarted, idx); err != nil {
		res.Err = fmt.Errorf("send started: %w", err)
		return res
	}
	if err := sendControl(conn, viewID, protocol.ActionEnded, idx); err != nil {
		res.Err = fmt.Errorf("send ended: %w", err)
	}
	return res
}

func drainStates(st stream, latest *playback.State) {
	for {
		select {
		case s := <-st.states:
			*latest = s
		default:
			return
		}
	}
}

func call(ctx context.Context, client *http.Client, cfg options, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.token)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != wantStatus {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// fetchAudio downloads audioURL, resolving relative URLs against baseURL,
// and reports its size and sniffed content type.
func fetchAudio(ctx context.Context, client *http.Client, baseURL, audioURL string) (int, string, error) {
	base, err := url.Parse(baseURL + "/")
	if err != nil {
		return 0, "", err
	}
	ref, err := url.Parse(audioURL)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.ResolveReference(ref).String(), nil)
	if err != nil {
		return 0, "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, 40<<20))
	if err != nil {
		return 0, "", err
	}
	if res.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("HTTP %d", res.StatusCode)
	}
	if len(data) == 0 {
		return 0, "", fmt.Errorf("empty audio payload")
	}
	return len(data), audio.DetectFormat(data).ContentType, nil
}

func wsURLForView(baseURL, viewID, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/views/" + viewID + "/ws"
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, st stream) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case st.errs <- err:
			default:
			}
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypePlaybackState:
			var msg protocol.PlaybackState
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			// Only the newest state matters; make room by dropping the oldest.
			select {
			case st.states <- msg.State:
			default:
				select {
				case <-st.states:
				default:
				}
				st.states <- msg.State
			}
		case protocol.TypeErrorEvent:
			var msg protocol.ErrorEvent
			if err := json.Unmarshal(data, &msg); err == nil {
				select {
				case st.events <- msg:
				default:
				}
			}
		}
	}
}

func sendControl(conn *websocket.Conn, viewID, action string, idx int) error {
	return conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		ViewID:    viewID,
		Action:    action,
		LineIndex: &idx,
	})
}

func printLine(w io.Writer, r lineResult) {
	if r.Err != nil {
		fmt.Fprintf(w, "duelprobe: pass=%d line=%d error=%v\n", r.Pass, r.LineIndex, r.Err)
		return
	}
	fmt.Fprintf(w, "duelprobe: pass=%d line=%d cached=%t ready_in=%s bytes=%d type=%s\n",
		r.Pass, r.LineIndex, r.CachedBefore, r.Latency.Round(time.Millisecond), r.AudioBytes, r.ContentType)
}

type passSummary struct {
	Lines  int
	Errors int
	P50    time.Duration
	P95    time.Duration
	Max    time.Duration
}

func summarize(results []lineResult, pass int) passSummary {
	var s passSummary
	var latencies []time.Duration
	for _, r := range results {
		if r.Pass != pass {
			continue
		}
		s.Lines++
		if r.Err != nil {
			s.Errors++
			continue
		}
		latencies = append(latencies, r.Latency)
	}
	if len(latencies) == 0 {
		return s
	}
	slices.Sort(latencies)
	s.P50 = percentile(latencies, 0.50)
	s.P95 = percentile(latencies, 0.95)
	s.Max = latencies[len(latencies)-1]
	return s
}

// percentile uses nearest-rank on an already sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted))*p+0.999999) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func printSummary(w io.Writer, results []lineResult, passes int) {
	for pass := 1; pass <= passes; pass++ {
		s := summarize(results, pass)
		fmt.Fprintf(w, "duelprobe: pass=%d lines=%d errors=%d p50=%s p95=%s max=%s\n",
			pass, s.Lines, s.Errors, s.P50.Round(time.Millisecond), s.P95.Round(time.Millisecond), s.Max.Round(time.Millisecond))
	}
}
