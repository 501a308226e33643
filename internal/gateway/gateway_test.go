package gateway

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fotobudka/internal/domain"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func newTestGateway(t *testing.T, handler http.HandlerFunc, tokens TokenSource) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw, err := New(Options{BaseURL: srv.URL, Tokens: tokens})
	require.NoError(t, err)
	return gw, srv
}

func TestDoInjectsBearerToken(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		if r.URL.Path != "/api/users/me" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"tokens":12}`)
	}, staticToken("secret"))

	var out struct {
		Tokens int `json:"tokens"`
	}
	require.NoError(t, gw.Do(context.Background(), http.MethodGet, "/api/users/me", nil, true, &out))
	assert.Equal(t, 12, out.Tokens)
}

func TestDoWithoutTokenOmitsAuthorization(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			t.Fatalf("authorization header must be absent without a token")
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"not authenticated"}`)
	}, staticToken(""))

	err := gw.Do(context.Background(), http.MethodGet, "/api/users/me", nil, true, nil)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestDoSendsJSONBody(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"), "useAuth=false must not send the token")
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"external_id":"ext-1"}`, string(body))
		_, _ = io.WriteString(w, `{"id":"u1"}`)
	}, staticToken("secret"))

	var out struct {
		ID string `json:"id"`
	}
	err := gw.Do(context.Background(), http.MethodPost, "api/users", map[string]string{"external_id": "ext-1"}, false, &out)
	require.NoError(t, err)
	assert.Equal(t, "u1", out.ID)
}

func TestDoClassifiesErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"detail":"exists"}`)
		}, nil)
		err := gw.Do(context.Background(), http.MethodPost, "/api/users", nil, false, nil)
		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Code)
		assert.Contains(t, string(statusErr.Body), "exists")
		assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(err))
		assert.NotErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("forbidden is unauthorized", func(t *testing.T) {
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}, nil)
		err := gw.Do(context.Background(), http.MethodGet, "/api/users/me", nil, false, nil)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		assert.False(t, IsUnauthorized(err), "only 401 invalidates the token")
	})

	t.Run("decoding", func(t *testing.T) {
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"id":`)
		}, nil)
		var out map[string]any
		err := gw.Do(context.Background(), http.MethodGet, "/x", nil, false, &out)
		var decodeErr *DecodingError
		require.ErrorAs(t, err, &decodeErr)
	})

	t.Run("empty body with expected output", func(t *testing.T) {
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}, nil)
		var out map[string]any
		err := gw.Do(context.Background(), http.MethodGet, "/x", nil, false, &out)
		var decodeErr *DecodingError
		require.ErrorAs(t, err, &decodeErr)
	})

	t.Run("network", func(t *testing.T) {
		gw, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
		srv.Close()
		err := gw.Do(context.Background(), http.MethodGet, "/x", nil, false, nil)
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.Equal(t, 0, StatusCode(err))
	})

	t.Run("cancelled context", func(t *testing.T) {
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := gw.Do(ctx, http.MethodGet, "/x", nil, false, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestDoMultipartOrdersFieldsBeforeFile(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength <= 0 {
			t.Fatalf("expected explicit content length, got %d", r.ContentLength)
		}
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			t.Fatalf("unexpected content type %q: %v", r.Header.Get("Content-Type"), err)
		}
		reader := multipart.NewReader(r.Body, params["boundary"])
		var names []string
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("next part: %v", err)
			}
			names = append(names, part.FormName())
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "template_id":
				if string(data) != "7" {
					t.Fatalf("template_id = %q, want 7", data)
				}
			case "photo":
				if part.FileName() != "photo.jpg" {
					t.Fatalf("filename = %q, want photo.jpg", part.FileName())
				}
				if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
					t.Fatalf("part content type = %q, want image/jpeg", ct)
				}
				if string(data) != "JPEGDATA" {
					t.Fatalf("photo data = %q", data)
				}
			}
		}
		if strings.Join(names, ",") != "template_id,style,photo" {
			t.Fatalf("part order = %v", names)
		}
		_, _ = io.WriteString(w, `{"id":"job-1","status":"queued"}`)
	}, staticToken("secret"))

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	err := gw.DoMultipart(context.Background(), "/api/generations/fotobudka/effect",
		[]Field{{Name: "template_id", Value: "7"}, {Name: "style", Value: "warm"}},
		&FilePart{FieldName: "photo", FileName: "photo.jpg", ContentType: "image/jpeg", Data: []byte("JPEGDATA")},
		true, &out)
	require.NoError(t, err)
	assert.Equal(t, "job-1", out.ID)
}

func TestEncodeMultipartUsesRandomBoundary(t *testing.T) {
	_, first, err := encodeMultipart([]Field{{Name: "prompt", Value: "cat"}}, nil)
	require.NoError(t, err)
	_, second, err := encodeMultipart([]Field{{Name: "prompt", Value: "cat"}}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, _, err = encodeMultipart([]Field{{Name: ""}}, nil)
	assert.Error(t, err)
}

func TestDownloadAbsoluteAndRelative(t *testing.T) {
	gw, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cdn/out.png":
			if r.Header.Get("Authorization") != "" {
				t.Fatalf("direct downloads must be unauthenticated")
			}
			_, _ = w.Write([]byte("PNG"))
		case "/api/generations/file/out.png":
			if r.Header.Get("Authorization") != "Bearer secret" {
				t.Fatalf("file endpoint requires bearer auth")
			}
			_, _ = w.Write([]byte("FILE"))
		default:
			http.NotFound(w, r)
		}
	}, staticToken("secret"))

	data, err := gw.Download(context.Background(), srv.URL+"/cdn/out.png", false)
	require.NoError(t, err)
	assert.Equal(t, "PNG", string(data))

	data, err = gw.Download(context.Background(), "/api/generations/file/out.png", true)
	require.NoError(t, err)
	assert.Equal(t, "FILE", string(data))

	_, err = gw.Download(context.Background(), "/missing", false)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestIsAbsoluteURL(t *testing.T) {
	assert.True(t, IsAbsoluteURL("https://cdn.example.com/a.png"))
	assert.True(t, IsAbsoluteURL("http://localhost:8080/a.png"))
	assert.False(t, IsAbsoluteURL("a.png"))
	assert.False(t, IsAbsoluteURL("/api/generations/file/a.png"))
	assert.False(t, IsAbsoluteURL("ftp://host/a.png"))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
