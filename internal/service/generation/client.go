package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	model "github.com/vibz-labs/vibz/backend/internal/model/generation"
)

// Client 调用音乐生成服务的 HTTP 客户端
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a generation service client. A zero timeout keeps the
// transport default, which never times out.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// NewClientWithHTTP is used by tests to inject a custom transport.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Generate submits one multipart generation request and decodes the result.
func (c *Client) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	body, contentType, err := encodeForm(req)
	if err != nil {
		return nil, &TransportError{Op: "encode form", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", body)
	if err != nil {
		return nil, &TransportError{Op: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "submit generation", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("[generation] service answered status=%d after %s", resp.StatusCode, time.Since(start).Round(time.Millisecond))
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}

	var out model.Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &TransportError{Op: "decode response", Err: err}
	}

	log.Printf("[generation] audio=%s sample_rate=%d took=%s", out.AudioID, out.SampleRate, time.Since(start).Round(time.Millisecond))
	return &out, nil
}

// errorMessage prefers the service's detail field and falls back to the status code.
func errorMessage(status int, raw []byte) string {
	var body model.ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		if detail := strings.TrimSpace(body.Detail); detail != "" {
			return detail
		}
	}
	return serverErrorMessage(status)
}

func encodeForm(req *model.Request) (io.Reader, string, error) {
	if req == nil {
		return nil, "", errors.New("nil request")
	}

	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	fields := [][2]string{
		{"model_type", req.ModelType},
		{"duration_sec", strconv.Itoa(req.DurationSec)},
		{"temperature", strconv.FormatFloat(req.Temperature, 'f', -1, 64)},
		{"top_k", strconv.Itoa(req.TopK)},
		{"text_prompt", req.TextPrompt},
	}
	if req.Seed != nil {
		fields = append(fields, [2]string{"seed", strconv.Itoa(*req.Seed)})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	if err := writeFile(writer, "image", req.Image); err != nil {
		return nil, "", err
	}
	if err := writeFile(writer, "voice", req.Voice); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

// writeFile keeps the part's content type, which the service checks.
func writeFile(writer *multipart.Writer, field string, part *model.FilePart) error {
	if part == nil {
		return nil
	}

	contentType := part.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := part.Filename
	if filename == "" {
		filename = field
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)

	w, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := w.Write(part.Data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// Health reports whether the generation service answers its health check.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "health check", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ServiceError{StatusCode: resp.StatusCode, Message: serverErrorMessage(resp.StatusCode)}
	}
	return nil
}

// WaitForHealthy blocks until the service is healthy or ctx ends.
func (c *Client) WaitForHealthy(ctx context.Context, interval time.Duration) error {
	log.Printf("[generation] waiting for %s to become healthy", c.baseURL)
	for {
		if err := c.Health(ctx); err == nil {
			log.Println("[generation] service is healthy")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Resource is a streamed service-relative file such as the audio or its metadata.
type Resource struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Fetch streams a file referenced by a generation result. ref is usually a
// service-relative path; absolute http(s) URLs are fetched as given.
// The caller closes Body.
func (c *Client) Fetch(ctx context.Context, ref string) (*Resource, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "fetch " + ref, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}

	return &Resource{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}

func (c *Client) resolve(ref string) (string, error) {
	if ref == "" {
		return "", ErrInvalidResource
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResource, err)
	}
	if u.IsAbs() {
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidResource, ref)
		}
		return ref, nil
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref, nil
}
