package generation

// Sampling parameters the client always sends.
const (
	Temperature = 1.0
	TopK        = 250
)

// FilePart 表单中的文件字段
type FilePart struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Request 生成请求，对应 POST /generate 的 multipart 表单
type Request struct {
	ModelType   string
	DurationSec int
	Temperature float64
	TopK        int
	TextPrompt  string
	Seed        *int
	Image       *FilePart
	Voice       *FilePart
}
