package studio

import "strings"

// ModelType 生成模型类型
type ModelType string

const (
	ModelBaseline  ModelType = "baseline"
	ModelFinetuned ModelType = "finetuned"
)

// Valid reports whether the model type is one the service knows about.
func (m ModelType) Valid() bool {
	return m == ModelBaseline || m == ModelFinetuned
}

const (
	MinDurationSeconds     = 20
	MaxDurationSeconds     = 45
	DefaultDurationSeconds = 30
)

// Asset 用户附加的二进制文件（图片或语音）
type Asset struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
}

// Size returns the payload length in bytes.
func (a *Asset) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// Draft 待提交的生成请求，仅存在于内存中
type Draft struct {
	ModelType       ModelType `json:"modelType"`
	DurationSeconds int       `json:"durationSec"`
	TextPrompt      string    `json:"textPrompt"`
	Seed            *int      `json:"seed,omitempty"`
	Image           *Asset    `json:"-"`
	Voice           *Asset    `json:"-"`
}

// NewDraft returns an empty draft on the baseline model.
func NewDraft(duration int) Draft {
	if duration < MinDurationSeconds || duration > MaxDurationSeconds {
		duration = DefaultDurationSeconds
	}
	return Draft{
		ModelType:       ModelBaseline,
		DurationSeconds: duration,
	}
}

// Submittable reports whether at least one of text, image or voice is present.
func (d Draft) Submittable() bool {
	return strings.TrimSpace(d.TextPrompt) != "" || d.Image != nil || d.Voice != nil
}
