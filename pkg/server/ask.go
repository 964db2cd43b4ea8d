package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/ragdesk/ragdesk/pkg/ask"
	"github.com/ragdesk/ragdesk/pkg/ingest"
	"github.com/ragdesk/ragdesk/pkg/models"
	"github.com/ragdesk/ragdesk/pkg/router"
)

// CacheHeader reports how an /ask request was answered.
const CacheHeader = "X-Ragdesk-Cache"

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

type askRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	log := requestLogger(r)

	req, attachment, err := s.parseAsk(w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	model, err := s.deps.Router.Resolve(router.Text, req.Model)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	in := ask.Request{Prompt: req.Prompt, Model: model, Attachment: attachment}

	if !req.Stream {
		res, err := s.deps.Orchestrator.Ask(r.Context(), in)
		if err != nil {
			s.writeAskError(w, model, err)
			return
		}
		w.Header().Set(CacheHeader, cacheHeaderValue(res.Outcome))
		writeJSON(w, http.StatusOK, res.Response())
		return
	}

	sw := newStreamWriter(w)
	res, err := s.deps.Orchestrator.AskStream(r.Context(), in, sw.emit)
	switch {
	case err != nil && sw.started:
		log.Warn("stream aborted", "model", model, "err", err)
		sw.fail(err)
	case err != nil:
		s.writeAskError(w, model, err)
	case res.Outcome != ask.Generated:
		w.Header().Set(CacheHeader, cacheHeaderValue(res.Outcome))
		writeJSON(w, http.StatusOK, res.Response())
	case !sw.started:
		// The model produced an empty answer.
		sw.start()
	}
}

func (s *Server) writeAskError(w http.ResponseWriter, model string, err error) {
	if errors.Is(err, ask.ErrEmptyPrompt) || errors.Is(err, ask.ErrEmptyModel) {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusInternalServerError, models.AskResponse{
		Model:  model,
		Answer: "Error: " + err.Error(),
	})
}

// parseAsk reads a JSON body or a (multipart) form. A form may carry a file
// which is saved to the upload directory and used as attachment context.
func (s *Server) parseAsk(w http.ResponseWriter, r *http.Request) (askRequest, string, error) {
	var req askRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, "", fmt.Errorf("invalid JSON body: %w", err)
		}
		return req, "", nil
	}

	if ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return req, "", fmt.Errorf("invalid form: %w", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return req, "", fmt.Errorf("invalid form: %w", err)
	}

	req.Prompt = r.FormValue("prompt")
	req.Model = r.FormValue("model")
	if req.Model == "" {
		req.Model = r.FormValue("models")
	}
	req.Stream, _ = strconv.ParseBool(r.FormValue("stream"))

	attachment := ""
	if r.MultipartForm != nil {
		attachment = s.saveAttachment(r)
	}
	return req, attachment, nil
}

// saveAttachment stores the uploaded "file" and returns its text. Problems
// are logged and yield no attachment.
func (s *Server) saveAttachment(r *http.Request) string {
	log := requestLogger(r)
	file, header, err := r.FormFile("file")
	if err != nil {
		return ""
	}
	defer file.Close()

	name := sanitizeFilename(header.Filename)
	if name == "" || !ingest.Supported(name) {
		log.Warn("ignoring unsupported attachment", "filename", header.Filename)
		return ""
	}
	path, err := saveUpload(file, s.cfg.Resolve(s.cfg.Ingest.UploadDir), name)
	if err != nil {
		log.Warn("could not save attachment", "filename", name, "err", err)
		return ""
	}
	text, err := ingest.ExtractFile(path)
	if err != nil {
		log.Warn("could not extract attachment", "filename", name, "err", err)
		return ""
	}
	return text
}

func (s *Server) handleCached(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	model, err := s.deps.Router.Resolve(router.Text, q.Get("model"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.deps.Orchestrator.Cached(q.Get("prompt"), model)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch st.Status {
	case models.CacheCompleted:
		w.Header().Set(CacheHeader, "hit")
		writeJSON(w, http.StatusOK, models.AskResponse{Model: model, Answer: st.Response, Cached: true})
	case models.CacheInProgress:
		w.Header().Set(CacheHeader, "in_progress")
		writeJSON(w, http.StatusAccepted, models.AskResponse{Model: model, Answer: ask.LoadingAnswer})
	default:
		w.Header().Set(CacheHeader, "miss")
		writeJSONError(w, http.StatusNotFound, "no cached answer")
	}
}

func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	log := requestLogger(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "no image uploaded")
		return
	}
	defer file.Close()

	name := sanitizeFilename(header.Filename)
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "empty filename")
		return
	}
	if !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(name))) {
		writeJSONError(w, http.StatusBadRequest, "unsupported file type")
		return
	}
	model, err := s.deps.Router.Resolve(router.Image, r.FormValue("image_model"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, err := saveUpload(file, s.cfg.Resolve(s.cfg.Ingest.ImageDir), name)
	if err != nil {
		log.Error("save image", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "could not save image")
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Error("read image", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "could not read image")
		return
	}

	sw := newStreamWriter(w)
	_, err = s.deps.Orchestrator.AnalyzeImage(r.Context(), ask.ImageRequest{
		Prompt: r.FormValue("image_prompt"),
		Model:  model,
		Images: []string{base64.StdEncoding.EncodeToString(raw)},
	}, sw.emit)
	switch {
	case err != nil && sw.started:
		log.Warn("image stream aborted", "model", model, "err", err)
		sw.fail(err)
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, "Error: "+err.Error())
	case !sw.started:
		sw.start()
	}
}

func (s *Server) maxUploadBytes() int64 {
	mb := s.cfg.Ingest.MaxUploadMB
	if mb <= 0 {
		mb = 25
	}
	return int64(mb) << 20
}

func cacheHeaderValue(o ask.Outcome) string {
	switch o {
	case ask.CacheHit:
		return "hit"
	case ask.InProgress:
		return "in_progress"
	default:
		return "miss"
	}
}

// streamWriter writes plain-text fragments, flushing after each one. Headers
// are only sent with the first fragment so earlier failures can still use a
// JSON error response.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	f, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: f}
}

func (s *streamWriter) start() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.w.Header().Set("X-Content-Type-Options", "nosniff")
	s.w.Header().Set(CacheHeader, "miss")
	s.w.WriteHeader(http.StatusOK)
}

func (s *streamWriter) emit(fragment string) error {
	s.start()
	if _, err := io.WriteString(s.w, fragment); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *streamWriter) fail(err error) {
	_ = s.emit("\n[Error: " + err.Error() + "]")
}

// sanitizeFilename keeps the base name and replaces anything outside a
// conservative character set.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "_" {
		return ""
	}
	return name
}

func saveUpload(src io.Reader, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	return path, dst.Close()
}
