package generation

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Backend endpoints.
const (
	pathNanoBanana   = "/api/generations/fotobudka/nanobanana"
	pathPhotoEffect  = "/api/generations/fotobudka/effect"
	pathVideoEffect  = "/api/generations/fotobudka/video"
	pathTextToVideo  = "/api/generations/fotobudka/txt2video"
	pathVideoEnhance = "/fal/video-enhance"
	pathStatus       = "/api/generations/"
	pathFile         = "/api/generations/file/"
)

// Backend job statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFinished   = "finished"
	StatusError      = "error"
	StatusFailed     = "failed"
)

// Media is one binary upload.
type Media struct {
	FileName    string
	ContentType string
	Data        []byte
}

// JPEG wraps photo bytes as a JPEG upload.
func JPEG(data []byte) Media {
	return Media{FileName: "photo.jpg", ContentType: "image/jpeg", Data: data}
}

// MP4 wraps video bytes as an MP4 upload.
func MP4(data []byte) Media {
	return Media{FileName: "video.mp4", ContentType: "video/mp4", Data: data}
}

// Submission is the backend's answer to a submit call.
type Submission struct {
	ID     string
	Status string
	// Result is set when the endpoint already finished the job before answering.
	Result string
	Error  string
}

// TextToVideoRequest carries the JSON body of a text-to-video submission.
type TextToVideoRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	Seed           *int   `json:"seed,omitempty"`
}

// jobResponse covers both the submit and the status payloads.
type jobResponse struct {
	ID     flexibleID      `json:"id"`
	Status string          `json:"status"`
	Result string          `json:"result"`
	Error  json.RawMessage `json:"error"`
	Detail string          `json:"detail"`
}

func (r jobResponse) submission() Submission {
	sub := Submission{
		ID:     string(r.ID),
		Status: normalizeStatus(r.Status),
		Result: strings.TrimSpace(r.Result),
		Error:  r.errorText(),
	}
	// Synchronous endpoints may answer with just the result.
	if sub.Status == "" && sub.Result != "" {
		sub.Status = StatusCompleted
	}
	return sub
}

// errorText accepts a plain string or an object carrying "message".
func (r jobResponse) errorText() string {
	raw := bytes.TrimSpace(r.Error)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return strings.TrimSpace(text)
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
			return strings.TrimSpace(obj.Message)
		}
		return strings.TrimSpace(string(raw))
	}
	return strings.TrimSpace(r.Detail)
}

// flexibleID accepts ids sent as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
