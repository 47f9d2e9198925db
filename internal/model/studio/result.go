package studio

// Result 生成服务返回的音频描述，收到后不可变
type Result struct {
	DownloadURL string `json:"downloadUrl"`
	MetaURL     string `json:"metaUrl"`
	AudioID     string `json:"audioId"`
	SampleRate  int    `json:"sampleRate"`
	UsedPrompt  string `json:"usedPrompt"`
}
