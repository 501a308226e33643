package devserver

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	statusQueued     = "queued"
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusFailed     = "failed"
)

// mp4Header is the start of an ISO media file; synthetic videos are this header plus padding.
var mp4Header = []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2'}

type textToVideoRequest struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
}

func (s *Server) SubmitEffect(w http.ResponseWriter, r *http.Request) {
	templateID, photo, ok := s.readTemplateUpload(w, r)
	if !ok {
		return
	}
	failure := ""
	if templateID == FailingTemplateID {
		failure = FailureMessage
	}
	s.enqueue(w, r, effectCost, "image/png", syntheticImage(templateID, len(photo)), ".png", failure)
}

func (s *Server) SubmitNanoBanana(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		s.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if prompt == "" {
		s.error(w, http.StatusBadRequest, "bad_request", "prompt required")
		return
	}
	s.enqueue(w, r, effectCost, "image/png", syntheticImage(len(prompt), len(prompt)), ".png", "")
}

// SubmitVideoEffect answers once the video exists, mirroring the production endpoint.
func (s *Server) SubmitVideoEffect(w http.ResponseWriter, r *http.Request) {
	templateID, photo, ok := s.readTemplateUpload(w, r)
	if !ok {
		return
	}
	userID := s.currentUserID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.chargeLocked(userID, videoCost); !ok {
		s.error(w, code, "payment_required", "not enough tokens")
		return
	}
	id := uuid.NewString()
	if templateID == FailingTemplateID {
		s.jobs[id] = &job{ID: id, UserID: userID, status: statusFailed, failure: FailureMessage}
		s.json(w, http.StatusOK, map[string]string{"id": id, "status": statusFailed, "error": FailureMessage})
		return
	}
	name := id + ".mp4"
	s.files[name] = file{owner: userID, contentType: "video/mp4", data: syntheticVideo(len(photo))}
	s.jobs[id] = &job{ID: id, UserID: userID, status: statusCompleted, result: name}
	s.json(w, http.StatusOK, map[string]string{"id": id, "status": statusCompleted, "result": name})
}

func (s *Server) SubmitTextToVideo(w http.ResponseWriter, r *http.Request) {
	var req textToVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.error(w, http.StatusBadRequest, "bad_request", "prompt required")
		return
	}
	s.enqueue(w, r, videoCost, "video/mp4", syntheticVideo(len(req.Prompt)), ".mp4", "")
}

func (s *Server) SubmitVideoEnhance(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		s.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	upscale, err := strconv.Atoi(r.FormValue("upscale_factor"))
	if err != nil || upscale < 1 {
		s.error(w, http.StatusBadRequest, "bad_request", "upscale_factor must be a positive integer")
		return
	}
	video, ok := s.readFile(w, r, "video")
	if !ok {
		return
	}
	s.enqueue(w, r, videoCost, "video/mp4", video, ".mp4", "")
}

// JobStatus advances the job by one poll.
func (s *Server) JobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != s.currentUserID(r) {
		s.mu.Unlock()
		s.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if j.status == statusQueued || j.status == statusProcessing {
		j.polls++
		switch {
		case j.polls <= s.pollsBeforeDone:
			j.status = statusProcessing
		case j.failure != "":
			j.status = statusFailed
		default:
			j.status = statusCompleted
		}
	}
	resp := map[string]string{"id": j.ID, "status": j.status}
	switch j.status {
	case statusCompleted:
		resp["result"] = j.result
	case statusFailed:
		resp["error"] = j.failure
	}
	s.mu.Unlock()
	s.json(w, http.StatusOK, resp)
}

func (s *Server) DownloadFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	f, ok := s.files[name]
	s.mu.Unlock()
	if !ok || f.owner != s.currentUserID(r) {
		s.error(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	w.Header().Set("Content-Type", f.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(f.data)))
	_, _ = w.Write(f.data)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, cost int, contentType string, result []byte, ext, failure string) {
	userID := s.currentUserID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.chargeLocked(userID, cost); !ok {
		s.error(w, code, "payment_required", "not enough tokens")
		return
	}
	id := uuid.NewString()
	j := &job{ID: id, UserID: userID, status: statusQueued, failure: failure}
	if failure == "" {
		j.result = id + ext
		s.files[j.result] = file{owner: userID, contentType: contentType, data: result}
	}
	s.jobs[id] = j
	s.logger.Debug().Str("job_id", id).Str("user_id", userID).Msg("devserver: job queued")
	s.json(w, http.StatusOK, map[string]string{"id": id, "status": statusQueued})
}

func (s *Server) readTemplateUpload(w http.ResponseWriter, r *http.Request) (int, []byte, bool) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		s.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return 0, nil, false
	}
	templateID, err := strconv.Atoi(r.FormValue("template_id"))
	if err != nil || templateID <= 0 {
		s.error(w, http.StatusBadRequest, "bad_request", "template_id must be a positive integer")
		return 0, nil, false
	}
	photo, ok := s.readFile(w, r, "photo")
	return templateID, photo, ok
}

func (s *Server) readFile(w http.ResponseWriter, r *http.Request, field string) ([]byte, bool) {
	f, _, err := r.FormFile(field)
	if err != nil {
		s.error(w, http.StatusBadRequest, "bad_request", field+" file required")
		return nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		s.error(w, http.StatusBadRequest, "bad_request", field+" file is empty")
		return nil, false
	}
	return data, true
}

// syntheticImage renders a small PNG whose colour depends on the inputs.
func syntheticImage(seed, size int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	c := color.RGBA{R: uint8(seed * 37), G: uint8(size * 11), B: 160, A: 255}
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func syntheticVideo(size int) []byte {
	out := append([]byte(nil), mp4Header...)
	return append(out, bytes.Repeat([]byte{0}, 64+size%64)...)
}
