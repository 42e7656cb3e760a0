package server

import (
	"bufio"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/jobs"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/progress"
	"github.com/mgpai22/captioner/internal/subtitle"
	"github.com/mgpai22/captioner/internal/transcribe"
)

type fakeEngine struct {
	block chan struct{}
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Transcribe(ctx context.Context, _ string, _ transcribe.ModelSize) iter.Seq2[subtitle.Segment, error] {
	return func(yield func(subtitle.Segment, error) bool) {
		if f.block != nil {
			select {
			case <-f.block:
			case <-ctx.Done():
				yield(subtitle.Segment{}, failure.Wrap(failure.KindCancelled, "recognize", ctx.Err()))
				return
			}
		}
		yield(subtitle.Segment{Start: 0, End: 1.5, Tokens: []subtitle.Token{
			{Text: "hello", Start: 0, End: 0.5},
			{Text: "there", Start: 0.6, End: 1.5},
		}}, nil)
	}
}

func newTestServer(t *testing.T, engine transcribe.Engine, idle time.Duration) (*httptest.Server, *jobs.Manager) {
	t.Helper()
	m := jobs.NewManager(jobs.Options{
		NewEngine: func(context.Context, jobs.Request) (transcribe.Engine, error) {
			return engine, nil
		},
		Probe: func(context.Context, string) (time.Duration, error) {
			return 2 * time.Second, nil
		},
		Log: logging.Nop(),
	})
	s, err := New(Options{Manager: m, IdleTimeout: idle, Log: logging.Nop()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return ts, m
}

func writeMedia(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		t.Fatalf("failed to write media: %v", err)
	}
	return path
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func submit(t *testing.T, ts *httptest.Server, body string) submitResponse {
	t.Helper()
	var resp submitResponse
	if code := doJSON(t, http.MethodPost, ts.URL+"/jobs", body, &resp); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if resp.ID == "" || resp.Events != "/jobs/"+resp.ID+"/events" {
		t.Fatalf("unexpected submit response %+v", resp)
	}
	return resp
}

// readSSE returns the data payloads of every frame, plus the event names.
func readSSE(t *testing.T, url string, stopAfter int) ([]string, []string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	var data, names []string
	name := ""
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
			names = append(names, name)
			name = ""
			if stopAfter > 0 && len(data) == stopAfter {
				return data, names
			}
		}
	}
	return data, names
}

func TestLive(t *testing.T) {
	ts, _ := newTestServer(t, &fakeEngine{}, 0)
	var body map[string]string
	if code := doJSON(t, http.MethodGet, ts.URL+"/live", "", &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["service"] != "OK" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestModels(t *testing.T) {
	ts, _ := newTestServer(t, &fakeEngine{}, 0)
	var body struct {
		Models       []string `json:"models"`
		DefaultModel string   `json:"default_model"`
		Engines      []string `json:"engines"`
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/models", "", &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(body.Models) != len(transcribe.ModelSizes()) || body.DefaultModel != "small" {
		t.Errorf("unexpected models %+v", body)
	}
	if len(body.Engines) != len(transcribe.Engines()) {
		t.Errorf("unexpected engines %v", body.Engines)
	}
}

func TestSubmitAndStreamEvents(t *testing.T) {
	ts, _ := newTestServer(t, &fakeEngine{}, 0)
	media := writeMedia(t)

	resp := submit(t, ts, `{"video_path":"`+media+`","max_words":1}`)
	data, _ := readSSE(t, ts.URL+resp.Events, 0)
	if len(data) < 2 {
		t.Fatalf("expected several events, got %v", data)
	}

	var first, last progress.Event
	if err := json.Unmarshal([]byte(data[0]), &first); err != nil {
		t.Fatalf("bad frame %q: %v", data[0], err)
	}
	if err := json.Unmarshal([]byte(data[len(data)-1]), &last); err != nil {
		t.Fatalf("bad frame %q: %v", data[len(data)-1], err)
	}
	if first.Stage != progress.StageQueued {
		t.Errorf("expected the stream to start at QUEUED, got %s", first.Stage)
	}
	if last.Stage != progress.StageDone || last.Percent != 100 {
		t.Fatalf("expected DONE at 100, got %+v", last)
	}

	content, err := os.ReadFile(last.SRTPath)
	if err != nil {
		t.Fatalf("failed to read subtitles: %v", err)
	}
	// max_words=1 splits the two words into two cues
	if !strings.Contains(string(content), "2\n00:00:00,600 --> 00:00:01,500\nthere") {
		t.Errorf("unexpected subtitles:\n%s", content)
	}

	var snap jobs.Snapshot
	if code := doJSON(t, http.MethodGet, ts.URL+"/jobs/"+resp.ID, "", &snap); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if snap.State != progress.StageDone || snap.Result == nil || snap.Result.Cues != 2 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	var all []jobs.Snapshot
	doJSON(t, http.MethodGet, ts.URL+"/jobs", "", &all)
	if len(all) != 1 || all[0].ID != resp.ID {
		t.Errorf("expected one listed job, got %+v", all)
	}
}

func TestLateSubscriberGetsHistory(t *testing.T) {
	ts, m := newTestServer(t, &fakeEngine{}, 0)
	resp := submit(t, ts, `{"video_path":"`+writeMedia(t)+`"}`)

	job, err := m.Get(resp.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-job.Done()

	data, _ := readSSE(t, ts.URL+resp.Events, 0)
	if len(data) < 2 || !strings.Contains(data[0], `"QUEUED"`) || !strings.Contains(data[len(data)-1], `"DONE"`) {
		t.Errorf("expected the full history, got %v", data)
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	ts, _ := newTestServer(t, &fakeEngine{}, 0)
	media := writeMedia(t)

	tests := []struct {
		name string
		path string
		body string
		want failure.Kind
	}{
		{"missing video", "/jobs", `{"video_path":"/nope/clip.mp4"}`, failure.KindInvalidInput},
		{"bad model", "/jobs", `{"video_path":"` + media + `","model":"huge"}`, failure.KindInvalidInput},
		{"negative words", "/jobs", `{"video_path":"` + media + `","max_words":-1}`, failure.KindInvalidInput},
		{"bad color", "/jobs", `{"video_path":"` + media + `","burn":true,"style":{"font_size":16,"text_color":"zz"}}`, failure.KindInvalidInput},
		{"burn without srt", "/burn", `{"video_path":"` + media + `"}`, failure.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorResponse
			if code := doJSON(t, http.MethodPost, ts.URL+tt.path, tt.body, &body); code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", code)
			}
			if body.Kind != tt.want || body.Error == "" {
				t.Errorf("unexpected error body %+v", body)
			}
		})
	}
}

func TestUnknownJob(t *testing.T) {
	ts, _ := newTestServer(t, &fakeEngine{}, 0)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/jobs/nope"},
		{http.MethodDelete, "/jobs/nope"},
		{http.MethodGet, "/jobs/nope/events"},
		{http.MethodGet, "/jobs/nope/ws"},
	} {
		var body errorResponse
		if code := doJSON(t, tc.method, ts.URL+tc.path, "", &body); code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, code)
		}
	}
}

func TestCancelJob(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{})}
	ts, _ := newTestServer(t, engine, 0)
	resp := submit(t, ts, `{"video_path":"`+writeMedia(t)+`"}`)

	// wait for the job to reach the recognizer
	data, _ := readSSE(t, ts.URL+resp.Events, 2)
	if !strings.Contains(data[1], `"TRANSCRIBING"`) {
		t.Fatalf("expected TRANSCRIBING, got %v", data)
	}

	if code := doJSON(t, http.MethodDelete, ts.URL+"/jobs/"+resp.ID, "", nil); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}

	data, _ = readSSE(t, ts.URL+resp.Events, 0)
	var last progress.Event
	if err := json.Unmarshal([]byte(data[len(data)-1]), &last); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if last.Stage != progress.StageCancelled {
		t.Errorf("expected CANCELLED, got %+v", last)
	}
}

func TestStreamReportsIdleTimeout(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{})}
	ts, _ := newTestServer(t, engine, 100*time.Millisecond)
	resp := submit(t, ts, `{"video_path":"`+writeMedia(t)+`"}`)

	data, names := readSSE(t, ts.URL+resp.Events, 3)
	if names[2] != "timeout" || !strings.Contains(data[2], `"type":"timeout"`) {
		t.Fatalf("expected a timeout frame, got %v %v", names, data)
	}

	// the job is untouched and finishes once unblocked
	close(engine.block)
	data, _ = readSSE(t, ts.URL+resp.Events, 0)
	if !strings.Contains(data[len(data)-1], `"DONE"`) {
		t.Errorf("expected the job to finish, got %v", data)
	}
}

func TestWebSocketStream(t *testing.T) {
	ts, _ := newTestServer(t, &fakeEngine{}, 0)
	resp := submit(t, ts, `{"video_path":"`+writeMedia(t)+`"}`)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + resp.WebSocket
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var stages []progress.Stage
	for {
		var e progress.Event
		if err := conn.ReadJSON(&e); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("unexpected read error: %v", err)
			}
			break
		}
		stages = append(stages, e.Stage)
	}
	if len(stages) == 0 || stages[0] != progress.StageQueued || stages[len(stages)-1] != progress.StageDone {
		t.Errorf("unexpected stages %v", stages)
	}
}

func TestSRTLoadAndSave(t *testing.T) {
	ts, _ := newTestServer(t, &fakeEngine{}, 0)
	path := filepath.Join(t.TempDir(), "clip.srt")

	content := "1\n00:00:00,000 --> 00:00:01,000\nhello\n\n"
	body, _ := json.Marshal(saveRequest{Path: path, Content: content})
	var saved saveResponse
	if code := doJSON(t, http.MethodPost, ts.URL+"/srt", string(body), &saved); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !saved.Success || saved.Cues != 1 {
		t.Errorf("unexpected save response %+v", saved)
	}

	var doc subtitle.Document
	if code := doJSON(t, http.MethodGet, ts.URL+"/srt?path="+path, "", &doc); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if doc.Content != content || doc.Cues != 1 {
		t.Errorf("unexpected document %+v", doc)
	}

	var errBody errorResponse
	if code := doJSON(t, http.MethodGet, ts.URL+"/srt?path="+path+".missing", "", &errBody); code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing file, got %d", code)
	}
	bad, _ := json.Marshal(saveRequest{Path: path, Content: "1\nnot a timing line\n"})
	if code := doJSON(t, http.MethodPost, ts.URL+"/srt", string(bad), &errBody); code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed subtitles, got %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &fakeEngine{}, 0)
	doJSON(t, http.MethodGet, ts.URL+"/live", "", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	scanner := bufio.NewScanner(resp.Body)
	found := false
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "captioner_requests_total") {
			found = true
		}
	}
	if !found {
		t.Error("expected request metrics")
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{jobs.ErrJobNotFound, http.StatusNotFound},
		{jobs.ErrManagerShutdown, http.StatusServiceUnavailable},
		{failure.Invalid("bad"), http.StatusBadRequest},
		{failure.Wrap(failure.KindIOFailure, "write", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v): expected %d, got %d", tt.err, tt.want, got)
		}
	}
}
