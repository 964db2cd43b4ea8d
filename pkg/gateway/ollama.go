package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ragdesk/ragdesk/pkg/models"
)

// Ollama implements Gateway against the Ollama HTTP API.
type Ollama struct {
	baseURL string
	client  *http.Client
}

// NewOllama creates an Ollama gateway. timeout bounds a whole call, including
// reading a stream; zero means no limit.
func NewOllama(baseURL string, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

type chatResponse struct {
	Message models.ChatMessage `json:"message"`
	Done    bool               `json:"done"`
	Error   string             `json:"error,omitempty"`
}

// Generate implements Gateway.
func (o *Ollama) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := o.post(ctx, "/api/generate", generateRequest{Model: model, Prompt: prompt})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", out.Error)
	}
	return out.Response, nil
}

// Chat implements Gateway using /api/chat.
func (o *Ollama) Chat(ctx context.Context, model string, messages []models.ChatMessage) (<-chan models.Fragment, error) {
	resp, err := o.post(ctx, "/api/chat", chatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return nil, err
	}
	return stream(ctx, resp.Body, func(line []byte) (string, bool, error) {
		var c chatResponse
		if err := json.Unmarshal(line, &c); err != nil {
			return "", false, err
		}
		if c.Error != "" {
			return "", false, fmt.Errorf("ollama chat: %s", c.Error)
		}
		return c.Message.Content, c.Done, nil
	}), nil
}

// GenerateImages implements Gateway using /api/generate with images.
func (o *Ollama) GenerateImages(ctx context.Context, model, prompt string, images []string) (<-chan models.Fragment, error) {
	resp, err := o.post(ctx, "/api/generate", generateRequest{Model: model, Prompt: prompt, Images: images, Stream: true})
	if err != nil {
		return nil, err
	}
	return stream(ctx, resp.Body, func(line []byte) (string, bool, error) {
		var g generateResponse
		if err := json.Unmarshal(line, &g); err != nil {
			return "", false, err
		}
		if g.Error != "" {
			return "", false, fmt.Errorf("ollama generate: %s", g.Error)
		}
		return g.Response, g.Done, nil
	}), nil
}

func (o *Ollama) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		return fmt.Errorf("%w %d", ErrStatus, resp.StatusCode)
	}
	return fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, msg)
}

// stream reads newline-delimited JSON from body and forwards decoded
// fragments until done, error or cancellation. body is closed on return.
func stream(ctx context.Context, body io.ReadCloser, decode func([]byte) (string, bool, error)) <-chan models.Fragment {
	ch := make(chan models.Fragment, 16)

	go func() {
		defer close(ch)
		defer body.Close()

		send := func(f models.Fragment) bool {
			select {
			case ch <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			content, done, err := decode(line)
			if err != nil {
				if malformedLine(err) {
					slog.Debug("skipping malformed stream line", "err", err)
					continue
				}
				send(models.Fragment{Err: err})
				return
			}
			if content != "" || done {
				if !send(models.Fragment{Content: content, Done: done}) {
					return
				}
			}
			if done {
				return
			}
		}

		err := scanner.Err()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		send(models.Fragment{Err: err})
	}()

	return ch
}

// malformedLine reports whether err came from a line that is not a stream
// fragment, as opposed to a fragment carrying a backend error.
func malformedLine(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
