package generation

// Response 生成成功时的 JSON 响应体
type Response struct {
	DownloadURL string `json:"download_url"`
	MetaURL     string `json:"meta_url"`
	AudioID     string `json:"audio_id"`
	SampleRate  int    `json:"sample_rate"`
	UsedPrompt  string `json:"used_prompt"`
}

// ErrorBody is the optional error payload; any other shape is tolerated.
type ErrorBody struct {
	Detail string `json:"detail"`
}
