package studio

import "time"

// RecorderStatus 录音状态机的状态
type RecorderStatus string

const (
	RecorderIdle      RecorderStatus = "idle"
	RecorderRecording RecorderStatus = "recording"
)

// NoticeKind classifies a transient notice by the error that raised it.
type NoticeKind string

const (
	NoticeValidation NoticeKind = "validation"
	NoticePermission NoticeKind = "permission"
	NoticeService    NoticeKind = "service"
	NoticeTransport  NoticeKind = "transport"
	NoticeRecording  NoticeKind = "recording"
)

// Notice 临时提示，到期后自动清除
type Notice struct {
	Seq       int64      `json:"seq"`
	Kind      NoticeKind `json:"kind"`
	Message   string     `json:"message"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// State is the full display state of one session.
type State struct {
	Version   int64          `json:"version"`
	Draft     Draft          `json:"draft"`
	Recorder  RecorderStatus `json:"recorder"`
	Loading   bool           `json:"loading"`
	Result    *Result        `json:"result,omitempty"`
	ShowDebug bool           `json:"showDebug"`
	Notice    *Notice        `json:"notice,omitempty"`
}

// AssetInfo describes an attachment without its payload.
type AssetInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// View 返回给前端的会话快照（不含二进制数据）
type View struct {
	SessionID string         `json:"sessionId"`
	Version   int64          `json:"version"`
	Draft     Draft          `json:"draft"`
	Image     *AssetInfo     `json:"image,omitempty"`
	Voice     *AssetInfo     `json:"voice,omitempty"`
	Recorder  RecorderStatus `json:"recorder"`
	Loading   bool           `json:"loading"`
	CanSubmit bool           `json:"canSubmit"`
	Result    *Result        `json:"result,omitempty"`
	ShowDebug bool           `json:"showDebug"`
	Notice    *Notice        `json:"notice,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ViewOf builds the public snapshot of a state.
func ViewOf(sessionID string, createdAt time.Time, s State) View {
	return View{
		SessionID: sessionID,
		Version:   s.Version,
		Draft:     s.Draft,
		Image:     infoOf(s.Draft.Image),
		Voice:     infoOf(s.Draft.Voice),
		Recorder:  s.Recorder,
		Loading:   s.Loading,
		CanSubmit: s.Draft.Submittable() && !s.Loading,
		Result:    s.Result,
		ShowDebug: s.ShowDebug,
		Notice:    s.Notice,
		CreatedAt: createdAt,
	}
}

func infoOf(a *Asset) *AssetInfo {
	if a == nil {
		return nil
	}
	return &AssetInfo{Name: a.Name, ContentType: a.ContentType, Size: len(a.Data)}
}
