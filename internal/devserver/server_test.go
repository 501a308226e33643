package devserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fotobudka/internal/auth"
	"fotobudka/internal/catalog"
	"fotobudka/internal/domain"
	"fotobudka/internal/gateway"
	"fotobudka/internal/generation"
	"fotobudka/internal/infra"
	"fotobudka/internal/jobs"
	"fotobudka/internal/ledger"
	"fotobudka/internal/storage"
)

const testSecret = "test-secret"

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := New(Options{JWTSecret: testSecret, PollsBeforeDone: 2, Catalog: infra.DefaultCatalogConfig()})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

// clientStack is the client side wired the way the composition root wires it.
type clientStack struct {
	gw      *gateway.Gateway
	session *auth.Session
	ledger  *ledger.Ledger
	gen     *generation.Client
	store   *jobs.Store
	dir     string
}

func newClientStack(t *testing.T, baseURL string) *clientStack {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewFileStore(dir)
	require.NoError(t, err)

	gw, err := gateway.New(gateway.Options{BaseURL: baseURL})
	require.NoError(t, err)
	led := ledger.New(gw, nil)
	session, err := auth.NewSession(auth.Options{
		Backend:  gw,
		Store:    auth.NewFileCredentialStore(filepath.Join(dir, "session.json")),
		Identity: auth.NewInstallIdentity(files),
		Balance:  led,
	})
	require.NoError(t, err)
	gw.SetTokenSource(session)
	require.NoError(t, session.Bootstrap(context.Background()))

	gen, err := generation.NewClient(generation.Options{Backend: gw, PollInterval: time.Millisecond, TempDir: t.TempDir()})
	require.NoError(t, err)
	store, err := jobs.Open(jobs.Options{Files: files, Generator: gen, Balance: led})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &clientStack{gw: gw, session: session, ledger: led, gen: gen, store: store, dir: dir}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newBackend(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "fotobudka_devserver_requests_total")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newBackend(t)
	for _, path := range []string{"/api/users/me", "/api/paywalls", "/api/generations/abc"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestBootstrapGrantsStartingBalance(t *testing.T) {
	c := newClientStack(t, newBackend(t).URL)

	assert.Equal(t, auth.StateAuthenticated, c.session.State())
	assert.Equal(t, StartingTokens, c.ledger.Balance().Tokens)
	b, err := c.ledger.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StartingTokens, b.Tokens)
}

func TestEffectJobsEndToEnd(t *testing.T) {
	c := newClientStack(t, newBackend(t).URL)

	photoID, err := c.store.StartJob(jobs.EffectInput{TemplateID: 7, Photo: []byte("selfie")}, domain.JobKindPhotoEffect)
	require.NoError(t, err)
	c.store.Wait()

	rec, ok := c.store.GetJob(photoID)
	require.True(t, ok)
	require.Equal(t, domain.JobStatusSuccess, rec.Status, "error: %v", rec.ErrorMessage)
	require.NotNil(t, rec.ResultImagePath)
	require.NotNil(t, rec.RemoteJobID)
	assert.FileExists(t, filepath.Join(c.dir, *rec.ResultImagePath))
	assert.Equal(t, StartingTokens-effectCost, c.ledger.Balance().Tokens)

	videoID, err := c.store.StartJob(jobs.EffectInput{TemplateID: 3, Photo: []byte("selfie")}, domain.JobKindVideoEffect)
	require.NoError(t, err)
	c.store.Wait()

	rec, ok = c.store.GetJob(videoID)
	require.True(t, ok)
	require.Equal(t, domain.JobStatusSuccess, rec.Status, "error: %v", rec.ErrorMessage)
	require.NotNil(t, rec.ResultVideoPath)
	assert.FileExists(t, filepath.Join(c.dir, *rec.ResultVideoPath))
	assert.Equal(t, StartingTokens-effectCost-videoCost, c.ledger.Balance().Tokens)
	assert.Len(t, c.store.Jobs(), 2)
}

func TestFailingTemplateSurfacesBackendMessage(t *testing.T) {
	c := newClientStack(t, newBackend(t).URL)

	id, err := c.store.StartJob(jobs.EffectInput{TemplateID: FailingTemplateID, Photo: []byte("selfie")}, domain.JobKindPhotoEffect)
	require.NoError(t, err)
	c.store.Wait()

	rec, ok := c.store.GetJob(id)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusError, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "Generation failed: "+FailureMessage, *rec.ErrorMessage)
	assert.True(t, rec.CanRetry())
}

func TestSynchronousVideoFailure(t *testing.T) {
	c := newClientStack(t, newBackend(t).URL)

	_, err := c.gen.GenerateVideoEffectFile(context.Background(), FailingTemplateID, generation.JPEG([]byte("selfie")))
	var genErr *domain.GenerationFailedError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, FailureMessage, genErr.Message)
}

func TestForegroundPipelines(t *testing.T) {
	c := newClientStack(t, newBackend(t).URL)
	ctx := context.Background()

	img, err := c.gen.GenerateNanoBanana(ctx, "a cat in a hat", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, img)

	path, err := c.gen.GenerateTextToVideo(ctx, generation.TextToVideoRequest{Prompt: "sunrise", Duration: 5})
	require.NoError(t, err)
	assert.FileExists(t, path)

	path, err = c.gen.EnhanceVideo(ctx, generation.MP4([]byte("raw video")), 2)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestRunningOutOfTokensIsPaymentRequired(t *testing.T) {
	c := newClientStack(t, newBackend(t).URL)
	ctx := context.Background()

	for i := 0; i < StartingTokens/videoCost; i++ {
		_, err := c.gen.SubmitVideoEffect(ctx, 1, generation.JPEG([]byte("selfie")))
		require.NoError(t, err)
	}
	_, err := c.gen.SubmitVideoEffect(ctx, 1, generation.JPEG([]byte("selfie")))
	require.Error(t, err)
	assert.Equal(t, http.StatusPaymentRequired, gateway.StatusCode(err))
}

func TestJobsAreScopedToTheirOwner(t *testing.T) {
	srv := newBackend(t)
	owner := newClientStack(t, srv.URL)
	other := newClientStack(t, srv.URL)
	ctx := context.Background()

	sub, err := owner.gen.SubmitPhotoEffect(ctx, 7, generation.JPEG([]byte("selfie")))
	require.NoError(t, err)

	_, err = other.gen.Poll(ctx, sub.ID)
	assert.Equal(t, http.StatusNotFound, gateway.StatusCode(err))

	result, err := owner.gen.Poll(ctx, sub.ID)
	require.NoError(t, err)
	_, err = other.gen.Download(ctx, result)
	assert.ErrorIs(t, err, domain.ErrDownloadFailed)
}

func TestSubmitValidation(t *testing.T) {
	c := newClientStack(t, newBackend(t).URL)
	ctx := context.Background()
	photo := &gateway.FilePart{FieldName: "photo", FileName: "photo.jpg", ContentType: "image/jpeg", Data: []byte("selfie")}
	var out map[string]any

	tests := []struct {
		name   string
		path   string
		fields []gateway.Field
		file   *gateway.FilePart
	}{
		{"template not a number", "/api/generations/fotobudka/effect", []gateway.Field{{Name: "template_id", Value: "abc"}}, photo},
		{"photo missing", "/api/generations/fotobudka/effect", []gateway.Field{{Name: "template_id", Value: "7"}}, nil},
		{"upscale zero", "/fal/video-enhance", []gateway.Field{{Name: "upscale_factor", Value: "0"}}, photo},
		{"prompt missing", "/api/generations/fotobudka/nanobanana", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.gw.DoMultipart(ctx, tt.path, tt.fields, tt.file, true, &out)
			assert.Equal(t, http.StatusBadRequest, gateway.StatusCode(err))
		})
	}

	err := c.gw.Do(ctx, http.MethodPost, "/api/generations/fotobudka/txt2video", map[string]string{"prompt": " "}, true, &out)
	assert.Equal(t, http.StatusBadRequest, gateway.StatusCode(err))
	assert.Equal(t, StartingTokens, c.ledger.Balance().Tokens, "rejected submissions are free")
}

func TestRegisterDuplicateIsUnprocessable(t *testing.T) {
	srv := newBackend(t)
	post := func() int {
		resp, err := http.Post(srv.URL+"/api/users", "application/json", strings.NewReader(`{"external_id":"same"}`))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusUnprocessableEntity, post())

	resp, err := http.Post(srv.URL+"/api/users/authorize", "application/json", strings.NewReader(`{"user_id":"nobody"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPaywallsFeedPrimaryCatalog(t *testing.T) {
	c := newClientStack(t, newBackend(t).URL)

	resolver, err := catalog.NewResolver(catalog.Options{
		Primary:    catalog.NewHTTPProvider(c.gw),
		AllowLists: infra.DefaultCatalogConfig().AllowLists,
	})
	require.NoError(t, err)
	cat, err := resolver.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "primary", cat.Source)
	assert.Equal(t, catalog.StateReady, cat.State())
	ids, ok := cat.Group("main")
	require.True(t, ok)
	assert.Equal(t, []string{"fotobudka.week.premium", "fotobudka.year.premium"}, ids)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{JWTSecret: "x", PollsBeforeDone: -1})
	assert.Error(t, err)
}
