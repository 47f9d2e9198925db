package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	model "github.com/vibz-labs/vibz/backend/internal/model/studio"
	generationService "github.com/vibz-labs/vibz/backend/internal/service/generation"
	studioService "github.com/vibz-labs/vibz/backend/internal/service/studio"
	"github.com/vibz-labs/vibz/backend/pkg/utils"
)

// DefaultMaxUploadBytes caps a single upload request body.
const DefaultMaxUploadBytes = 256 << 20

const heartbeatInterval = 15 * time.Second

// ResourceFetcher streams files referenced by a generation result.
type ResourceFetcher interface {
	Fetch(ctx context.Context, path string) (*generationService.Resource, error)
}

// Handler 音乐工作室的HTTP处理器
type Handler struct {
	studioSvc      *studioService.Service
	fetcher        ResourceFetcher
	maxUploadBytes int64
}

// New 创建工作室处理器
func New(studioSvc *studioService.Service, fetcher ResourceFetcher, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		studioSvc:      studioSvc,
		fetcher:        fetcher,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes 注册工作室相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)

	r.Patch("/sessions/{sessionID}/draft", h.handleUpdateDraft)
	r.Put("/sessions/{sessionID}/image", h.handleUpload("image"))
	r.Delete("/sessions/{sessionID}/image", h.handleRemoveImage)
	r.Put("/sessions/{sessionID}/voice", h.handleUpload("voice"))
	r.Delete("/sessions/{sessionID}/voice", h.handleRemoveVoice)

	r.Post("/sessions/{sessionID}/recording/toggle", h.handleRecording((*studioService.Session).ToggleRecording))
	r.Post("/sessions/{sessionID}/recording/start", h.handleRecording((*studioService.Session).StartRecording))
	r.Post("/sessions/{sessionID}/recording/stop", h.handleRecording((*studioService.Session).StopRecording))

	r.Post("/sessions/{sessionID}/submit", h.handleSubmit)
	r.Post("/sessions/{sessionID}/result/debug", h.handleToggleDebug)
	r.Get("/sessions/{sessionID}/result/audio", h.handleResultAudio)
	r.Get("/sessions/{sessionID}/result/meta", h.handleResultMeta)

	r.Get("/sessions/{sessionID}/events", h.handleEvents)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*studioService.Session, bool) {
	session, err := h.studioSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, err)
		return nil, false
	}
	return session, true
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.studioSvc.CreateSession(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session.View())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.View())
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.studioSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type draftPayload struct {
	ModelType   *model.ModelType `json:"modelType"`
	DurationSec *int             `json:"durationSec"`
	TextPrompt  *string          `json:"textPrompt"`
	Seed        json.RawMessage  `json:"seed"`
}

func (h *Handler) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var payload draftPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := studioService.DraftPatch{
		ModelType:   payload.ModelType,
		DurationSec: payload.DurationSec,
		TextPrompt:  payload.TextPrompt,
	}
	if len(payload.Seed) > 0 {
		if bytes.Equal(bytes.TrimSpace(payload.Seed), []byte("null")) {
			patch.ClearSeed = true
		} else {
			var seed int
			if err := json.Unmarshal(payload.Seed, &seed); err != nil {
				utils.RespondError(w, http.StatusBadRequest, "seed must be an integer")
				return
			}
			patch.Seed = &seed
		}
	}

	view, err := session.UpdateDraft(patch)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}

// handleUpload stores the multipart file in field as the image or voice input.
// The file type is forwarded as-is; the generation service decides what it accepts.
func (h *Handler) handleUpload(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := h.session(w, r)
		if !ok {
			return
		}

		asset, err := h.readAsset(w, r, field)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				utils.RespondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("%s exceeds %d bytes", field, h.maxUploadBytes))
				return
			}
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		var view model.View
		if field == "image" {
			view, err = session.AttachImage(asset)
		} else {
			view, err = session.AttachVoice(asset)
		}
		if err != nil {
			respondError(w, err)
			return
		}
		log.Printf("[studio] session=%s %s attached name=%s type=%s bytes=%d", session.ID(), field, asset.Name, asset.ContentType, asset.Size())
		utils.RespondJSON(w, http.StatusOK, view)
	}
}

func (h *Handler) readAsset(w http.ResponseWriter, r *http.Request, field string) (*model.Asset, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%s file is required", field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s file is empty", field)
	}

	contentType := header.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	} else {
		contentType = http.DetectContentType(data)
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			contentType = mediaType
		}
	}

	name := path.Base(header.Filename)
	if name == "." || name == "/" {
		name = field
	}
	return &model.Asset{Name: name, ContentType: contentType, Data: data}, nil
}

func (h *Handler) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.RemoveImage())
}

func (h *Handler) handleRemoveVoice(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.RemoveVoice())
}

func (h *Handler) handleRecording(op func(*studioService.Session, context.Context) (model.View, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := h.session(w, r)
		if !ok {
			return
		}
		view, err := op(session, r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, view)
	}
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := session.Submit(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.View())
}

func (h *Handler) handleToggleDebug(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := session.ToggleDebug()
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleResultAudio(w http.ResponseWriter, r *http.Request) {
	h.proxyResult(w, r, func(res *model.Result) string { return res.DownloadURL })
}

func (h *Handler) handleResultMeta(w http.ResponseWriter, r *http.Request) {
	h.proxyResult(w, r, func(res *model.Result) string { return res.MetaURL })
}

// proxyResult streams a result file from the generation service. With
// ?download=1 the browser is told to save it.
func (h *Handler) proxyResult(w http.ResponseWriter, r *http.Request, target func(*model.Result) string) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	result := session.View().Result
	if result == nil {
		respondError(w, studioService.ErrNoResult)
		return
	}
	if h.fetcher == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "generation service unavailable")
		return
	}

	resourcePath := target(result)
	res, err := h.fetcher.Fetch(r.Context(), resourcePath)
	if err != nil {
		respondError(w, err)
		return
	}
	defer res.Body.Close()

	if res.ContentType != "" {
		w.Header().Set("Content-Type", res.ContentType)
	}
	if res.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	disposition := "inline"
	if r.URL.Query().Get("download") == "1" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": path.Base(resourcePath)}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, res.Body); err != nil {
		log.Printf("[studio] session=%s proxy %s interrupted: %v", session.ID(), resourcePath, err)
	}
}

// handleEvents streams session events as Server-Sent Events, starting with
// the current state.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := session.Events().Subscribe()
	defer session.Events().Unsubscribe(sub)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, 0, string(studioService.EventState), session.View()); err != nil {
		return
	}

	log.Printf("[sse] opening event stream for session=%s", session.ID())
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing event stream for session=%s", session.ID())
			return
		case <-sub.Done():
			return
		case ev := <-sub.C:
			if err := utils.SendSSEEvent(w, flusher, ev.Seq, string(ev.Type), ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
			session.Touch()
		}
	}
}
