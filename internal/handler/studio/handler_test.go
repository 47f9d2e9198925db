package studio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vibz-labs/vibz/backend/internal/model/generation"
	model "github.com/vibz-labs/vibz/backend/internal/model/studio"
	generationService "github.com/vibz-labs/vibz/backend/internal/service/generation"
	studioService "github.com/vibz-labs/vibz/backend/internal/service/studio"
)

type fakeGenerator struct {
	mu   sync.Mutex
	resp *generation.Response
	err  error
	last *generation.Request
}

func (g *fakeGenerator) Generate(ctx context.Context, req *generation.Request) (*generation.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return g.resp, nil
}

type fakeFetcher struct {
	paths []string
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, path string) (*generationService.Resource, error) {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return nil, f.err
	}
	return &generationService.Resource{
		Body:          io.NopCloser(strings.NewReader("RIFFdata")),
		ContentType:   "audio/wav",
		ContentLength: 8,
	}, nil
}

func setupRouter(gen *fakeGenerator) (*chi.Mux, *studioService.Service, *fakeFetcher) {
	svc := studioService.NewService(gen, studioService.Options{}, time.Minute)
	fetcher := &fakeFetcher{}
	handler := New(svc, fetcher, 1024)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, svc, fetcher
}

func do(r http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createSession(t *testing.T, r http.Handler) model.View {
	t.Helper()
	resp := do(r, http.MethodPost, "/sessions", nil, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	var view model.View
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view
}

func errorOf(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", resp.Body.String(), err)
	}
	return body["error"]
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(data)
	writer.Close()
	return &buf, writer.FormDataContentType()
}

func TestSessionLifecycle(t *testing.T) {
	r, _, _ := setupRouter(&fakeGenerator{})
	view := createSession(t, r)

	if view.SessionID == "" || view.Draft.ModelType != model.ModelBaseline || view.Draft.DurationSeconds != 30 {
		t.Fatalf("unexpected initial view: %+v", view)
	}
	if view.CanSubmit || view.Loading || view.Recorder != model.RecorderIdle {
		t.Fatalf("unexpected initial flags: %+v", view)
	}

	if resp := do(r, http.MethodGet, "/sessions/"+view.SessionID, nil, ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := do(r, http.MethodDelete, "/sessions/"+view.SessionID, nil, ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/sessions/"+view.SessionID, nil, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestUpdateDraft(t *testing.T) {
	r, _, _ := setupRouter(&fakeGenerator{})
	id := createSession(t, r).SessionID

	resp := do(r, http.MethodPatch, "/sessions/"+id+"/draft",
		strings.NewReader(`{"textPrompt":"rainy jazz","durationSec":45,"seed":42}`), "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var view model.View
	json.Unmarshal(resp.Body.Bytes(), &view)
	if view.Draft.TextPrompt != "rainy jazz" || view.Draft.DurationSeconds != 45 || view.Draft.Seed == nil || *view.Draft.Seed != 42 || !view.CanSubmit {
		t.Fatalf("unexpected draft: %+v", view.Draft)
	}

	resp = do(r, http.MethodPatch, "/sessions/"+id+"/draft", strings.NewReader(`{"seed":null}`), "application/json")
	json.Unmarshal(resp.Body.Bytes(), &view)
	if view.Draft.Seed != nil {
		t.Fatal("expected seed cleared")
	}
}

func TestUpdateDraftRejectsInvalidValues(t *testing.T) {
	r, _, _ := setupRouter(&fakeGenerator{})
	id := createSession(t, r).SessionID

	tests := []struct {
		body   string
		status int
		msg    string
	}{
		{body: `{"durationSec":19}`, status: http.StatusBadRequest, msg: studioService.ErrInvalidDuration.Message},
		{body: `{"modelType":"finetuned"}`, status: http.StatusBadRequest, msg: "finetuned model not available yet"},
		{body: `{"modelType":"other"}`, status: http.StatusBadRequest, msg: studioService.ErrInvalidModel.Message},
		{body: `{"seed":"abc"}`, status: http.StatusBadRequest, msg: "seed must be an integer"},
		{body: `{"unknown":1}`, status: http.StatusBadRequest, msg: "invalid request body"},
	}

	for _, tt := range tests {
		resp := do(r, http.MethodPatch, "/sessions/"+id+"/draft", strings.NewReader(tt.body), "application/json")
		if resp.Code != tt.status || errorOf(t, resp) != tt.msg {
			t.Fatalf("%s: got %d %q, want %d %q", tt.body, resp.Code, resp.Body.String(), tt.status, tt.msg)
		}
	}
}

func TestUploadAndRemoveAttachments(t *testing.T) {
	r, svc, _ := setupRouter(&fakeGenerator{})
	id := createSession(t, r).SessionID

	body, ct := multipartBody(t, "image", "cover.png", "image/png", []byte("png-bytes"))
	resp := do(r, http.MethodPut, "/sessions/"+id+"/image", body, ct)
	if resp.Code != http.StatusOK {
		t.Fatalf("image upload: %d %s", resp.Code, resp.Body.String())
	}

	body, ct = multipartBody(t, "voice", "hum.webm", "audio/webm;codecs=opus", []byte("webm-bytes"))
	resp = do(r, http.MethodPut, "/sessions/"+id+"/voice", body, ct)
	if resp.Code != http.StatusOK {
		t.Fatalf("voice upload: %d %s", resp.Code, resp.Body.String())
	}

	session, _ := svc.GetSession(context.Background(), id)
	draft := session.State().Draft
	if draft.Image == nil || string(draft.Image.Data) != "png-bytes" || draft.Voice == nil || draft.Voice.ContentType != "audio/webm" {
		t.Fatalf("unexpected draft: %+v", draft)
	}

	resp = do(r, http.MethodDelete, "/sessions/"+id+"/image", nil, "")
	var view model.View
	json.Unmarshal(resp.Body.Bytes(), &view)
	if view.Image != nil || view.Voice == nil || view.Voice.Name != "hum.webm" {
		t.Fatalf("remove image touched voice: %+v", view)
	}
}

func TestUploadRejectsBadFiles(t *testing.T) {
	r, _, _ := setupRouter(&fakeGenerator{})
	id := createSession(t, r).SessionID

	body, ct := multipartBody(t, "image", "empty.png", "image/png", nil)
	if resp := do(r, http.MethodPut, "/sessions/"+id+"/image", body, ct); resp.Code != http.StatusBadRequest {
		t.Fatalf("empty file: expected 400, got %d", resp.Code)
	}

	body, ct = multipartBody(t, "image", "big.png", "image/png", bytes.Repeat([]byte("x"), 4096))
	if resp := do(r, http.MethodPut, "/sessions/"+id+"/image", body, ct); resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("too large: expected 413, got %d", resp.Code)
	}

	body, ct = multipartBody(t, "other", "cover.png", "image/png", []byte("png"))
	if resp := do(r, http.MethodPut, "/sessions/"+id+"/image", body, ct); resp.Code != http.StatusBadRequest {
		t.Fatalf("missing field: expected 400, got %d", resp.Code)
	}
}

func TestUploadForwardsAnyContentType(t *testing.T) {
	r, svc, _ := setupRouter(&fakeGenerator{})
	id := createSession(t, r).SessionID

	tests := []struct {
		field       string
		filename    string
		contentType string
	}{
		{field: "image", filename: "cover.bin", contentType: "application/octet-stream"},
		{field: "voice", filename: "hum.ogg", contentType: "application/ogg"},
		{field: "voice", filename: "clip.mp4", contentType: "video/mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			body, ct := multipartBody(t, tt.field, tt.filename, tt.contentType, []byte("payload"))
			resp := do(r, http.MethodPut, "/sessions/"+id+"/"+tt.field, body, ct)
			if resp.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d %s", resp.Code, resp.Body.String())
			}

			session, _ := svc.GetSession(context.Background(), id)
			draft := session.State().Draft
			asset := draft.Image
			if tt.field == "voice" {
				asset = draft.Voice
			}
			if asset == nil || asset.ContentType != tt.contentType || asset.Name != tt.filename {
				t.Fatalf("unexpected %s: %+v", tt.field, asset)
			}
		})
	}
}

func TestSubmit(t *testing.T) {
	gen := &fakeGenerator{resp: &generation.Response{
		DownloadURL: "/audio/abc.wav",
		MetaURL:     "/meta/abc.json",
		AudioID:     "abc",
		SampleRate:  32000,
		UsedPrompt:  "rainy jazz",
	}}
	r, _, fetcher := setupRouter(gen)
	id := createSession(t, r).SessionID

	resp := do(r, http.MethodPost, "/sessions/"+id+"/submit", nil, "")
	if resp.Code != http.StatusBadRequest || errorOf(t, resp) != "Please provide a text prompt, image, or voice input." {
		t.Fatalf("empty submit: %d %s", resp.Code, resp.Body.String())
	}

	do(r, http.MethodPatch, "/sessions/"+id+"/draft", strings.NewReader(`{"textPrompt":"rainy jazz"}`), "application/json")
	resp = do(r, http.MethodPost, "/sessions/"+id+"/submit", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", resp.Code, resp.Body.String())
	}
	var view model.View
	json.Unmarshal(resp.Body.Bytes(), &view)
	if view.Result == nil || view.Result.AudioID != "abc" || view.Notice != nil || view.Loading {
		t.Fatalf("unexpected view: %+v", view)
	}
	if gen.last.TopK != 250 || gen.last.Temperature != 1.0 {
		t.Fatalf("unexpected request: %+v", gen.last)
	}

	resp = do(r, http.MethodGet, "/sessions/"+id+"/result/audio?download=1", nil, "")
	if resp.Code != http.StatusOK || resp.Body.String() != "RIFFdata" {
		t.Fatalf("audio proxy: %d %q", resp.Code, resp.Body.String())
	}
	if resp.Header().Get("Content-Type") != "audio/wav" || resp.Header().Get("Content-Disposition") != "attachment; filename=abc.wav" {
		t.Fatalf("unexpected headers: %v", resp.Header())
	}

	do(r, http.MethodGet, "/sessions/"+id+"/result/meta", nil, "")
	if len(fetcher.paths) != 2 || fetcher.paths[1] != "/meta/abc.json" {
		t.Fatalf("fetched %v", fetcher.paths)
	}

	resp = do(r, http.MethodPost, "/sessions/"+id+"/result/debug", nil, "")
	json.Unmarshal(resp.Body.Bytes(), &view)
	if !view.ShowDebug {
		t.Fatal("expected debug panel shown")
	}
}

func TestSubmitServiceError(t *testing.T) {
	gen := &fakeGenerator{err: &generationService.ServiceError{StatusCode: 400, Message: "invalid duration"}}
	r, _, _ := setupRouter(gen)
	id := createSession(t, r).SessionID
	do(r, http.MethodPatch, "/sessions/"+id+"/draft", strings.NewReader(`{"textPrompt":"x"}`), "application/json")

	resp := do(r, http.MethodPost, "/sessions/"+id+"/submit", nil, "")
	if resp.Code != http.StatusBadGateway || errorOf(t, resp) != "invalid duration" {
		t.Fatalf("got %d %s", resp.Code, resp.Body.String())
	}

	resp = do(r, http.MethodGet, "/sessions/"+id, nil, "")
	var view model.View
	json.Unmarshal(resp.Body.Bytes(), &view)
	if view.Notice == nil || view.Notice.Message != "invalid duration" || view.Result != nil {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestStatusForGenerationAndRecorderErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "invalid resource", err: &generationService.TransportError{Op: "fetch", Err: generationService.ErrInvalidResource}, status: http.StatusBadGateway},
		{name: "recorder busy", err: studioService.ErrRecorderBusy, status: http.StatusConflict},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, _ := statusFor(tt.err); status != tt.status {
				t.Fatalf("status = %d, want %d", status, tt.status)
			}
		})
	}
}

func TestResultProxyWithoutResult(t *testing.T) {
	r, _, _ := setupRouter(&fakeGenerator{})
	id := createSession(t, r).SessionID

	if resp := do(r, http.MethodGet, "/sessions/"+id+"/result/audio", nil, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestRecordingWithoutMicrophone(t *testing.T) {
	r, _, _ := setupRouter(&fakeGenerator{})
	id := createSession(t, r).SessionID

	resp := do(r, http.MethodPost, "/sessions/"+id+"/recording/start", nil, "")
	if resp.Code != http.StatusForbidden || errorOf(t, resp) != studioService.PermissionDeniedMessage {
		t.Fatalf("start: %d %s", resp.Code, resp.Body.String())
	}

	if resp := do(r, http.MethodPost, "/sessions/"+id+"/recording/stop", nil, ""); resp.Code != http.StatusConflict {
		t.Fatalf("stop: expected 409, got %d", resp.Code)
	}
}

func TestEventStream(t *testing.T) {
	r, svc, _ := setupRouter(&fakeGenerator{})
	srv := httptest.NewServer(r)
	defer srv.Close()
	id := createSession(t, r).SessionID

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/"+id+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events request: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content type = %s", resp.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var name string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read event: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			if strings.HasPrefix(line, "event: ") {
				name = strings.TrimPrefix(line, "event: ")
			}
			if line == "" && name != "" {
				return name
			}
		}
	}

	if got := readEvent(); got != "state" {
		t.Fatalf("first event = %s", got)
	}

	session, _ := svc.GetSession(context.Background(), id)
	session.SetText("hello")
	if got := readEvent(); got != "state" {
		t.Fatalf("second event = %s", got)
	}
}
