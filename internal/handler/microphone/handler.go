package microphone

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	micService "github.com/vibz-labs/vibz/backend/internal/service/microphone"
	studioService "github.com/vibz-labs/vibz/backend/internal/service/studio"
	"github.com/vibz-labs/vibz/backend/pkg/utils"
)

const negotiateTimeout = 10 * time.Second

// Handler attaches browser microphones to studio sessions.
type Handler struct {
	studioSvc    *studioService.Service
	grantTimeout time.Duration
	upgrader     websocket.Upgrader
}

// New 创建麦克风处理器
func New(studioSvc *studioService.Service, grantTimeout time.Duration) *Handler {
	return &Handler{
		studioSvc:    studioSvc,
		grantTimeout: grantTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// RegisterRoutes 注册麦克风相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/microphone/ws", h.handleWebSocket)
	r.Post("/sessions/{sessionID}/microphone/webrtc", h.handleWebRTC)
}

// handleWebSocket upgrades the request and keeps the socket microphone
// attached to the session until the browser disconnects.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.studioSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}

	mic := micService.NewSocketMicrophone(conn, micService.SocketOptions{GrantTimeout: h.grantTimeout})
	session.AttachMicrophone(mic)
	log.Printf("[websocket] microphone connected for session: %s", sessionID)

	// A session closed while the socket is open ends the socket too.
	go func() {
		select {
		case <-session.Done():
			mic.Close()
		case <-mic.Done():
		}
	}()

	if err := mic.Run(r.Context()); err != nil {
		log.Printf("[websocket] microphone session=%s ended: %v", sessionID, err)
	}
	h.detach(session, mic)
}

// handleWebRTC answers an SDP offer carrying the browser's microphone track.
func (h *Handler) handleWebRTC(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.studioSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid SDP offer")
		return
	}

	mic, err := micService.NewRTCMicrophone(h.grantTimeout)
	if err != nil {
		log.Printf("[webrtc] create peer connection failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "create peer connection failed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), negotiateTimeout)
	defer cancel()
	answer, err := mic.Answer(ctx, offer)
	if err != nil {
		mic.Close()
		log.Printf("[webrtc] negotiation failed session=%s: %v", sessionID, err)
		utils.RespondError(w, http.StatusBadRequest, "negotiation failed")
		return
	}

	session.AttachMicrophone(mic)
	log.Printf("[webrtc] microphone connected for session: %s", sessionID)
	go func() {
		<-mic.Done()
		h.detach(session, mic)
	}()

	utils.RespondJSON(w, http.StatusOK, answer)
}

func (h *Handler) detach(session *studioService.Session, mic studioService.Microphone) {
	session.DetachMicrophone(mic)
	log.Printf("[microphone] detached from session: %s", session.ID())
}
