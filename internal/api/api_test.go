package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scenecraft/internal/generation"
	"scenecraft/internal/models"
	"scenecraft/internal/orchestrator"
	"scenecraft/internal/planner"
	"scenecraft/internal/progress"
	"scenecraft/internal/providers"
	"scenecraft/internal/store"
	"scenecraft/pkg/config"
	"scenecraft/pkg/storage"
	"scenecraft/pkg/utils"
)

type fakePipeline struct {
	mu        sync.Mutex
	running   map[string]bool
	cancelled []string
	reset     []string
	single    orchestrator.SingleSceneRequest
	all       orchestrator.GenerateAllRequest
	allCtxErr error
	musicURL  string
	err       error
}

func (f *fakePipeline) PlanScript(ctx context.Context, projectID string) (*planner.Script, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &planner.Script{Script: "a story", Scenes: []planner.PlannedScene{{SceneNumber: 1, Prompt: "open"}}}, nil
}

func (f *fakePipeline) GenerateSingleScene(ctx context.Context, projectID string, req orchestrator.SingleSceneRequest) (*orchestrator.SingleSceneResult, error) {
	f.single = req
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.SingleSceneResult{
		SceneNumber:   req.SceneIndex + 1,
		VideoURL:      "https://media.example.com/clip.mp4",
		FirstFrameURL: "https://media.example.com/first.jpg",
		LastFrameURL:  "https://media.example.com/last.jpg",
		Attempts:      1,
	}, nil
}

func (f *fakePipeline) GenerateAll(ctx context.Context, projectID string, req orchestrator.GenerateAllRequest) (*orchestrator.GenerateAllResult, error) {
	f.all = req
	f.allCtxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.GenerateAllResult{
		FinalVideoURL: "https://media.example.com/final.mp4",
		SceneURLs:     []string{"https://media.example.com/1.mp4"},
		FrameURLs:     []orchestrator.FramePair{{First: "f1", Last: "l1"}},
	}, nil
}

func (f *fakePipeline) Restitch(ctx context.Context, projectID, musicURL string) (*orchestrator.RestitchResult, error) {
	f.musicURL = musicURL
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.RestitchResult{VideoURL: "https://media.example.com/final.mp4", SceneCount: 3, HasMusic: musicURL != ""}, nil
}

func (f *fakePipeline) Cancel(ctx context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, projectID)
	return nil
}

func (f *fakePipeline) ResetCancel(ctx context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset = append(f.reset, projectID)
	return nil
}

func (f *fakePipeline) IsRunning(projectID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[projectID]
}

type fakeDispatcher struct {
	dispatched []string
	err        error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, projectID string) error {
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, projectID)
	return nil
}

type fakeImages struct {
	repo store.Repository
	req  generation.AssetRequest
	err  error
}

func (f *fakeImages) GenerateAsset(ctx context.Context, req generation.AssetRequest) (*generation.AssetResult, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	result := &generation.AssetResult{StorageRef: "img.png", URL: "https://media.example.com/img.png"}
	if req.ProjectID != "" {
		pid := req.ProjectID
		asset := &models.Asset{ProjectID: &pid, Kind: models.AssetImage, Prompt: req.Prompt, StorageRef: "img.png"}
		if err := f.repo.CreateAsset(ctx, asset, 5); err != nil {
			return nil, err
		}
		result.Asset = asset
	}
	return result, nil
}

type fakeMusic struct {
	req providers.MusicRequest
}

func (f *fakeMusic) GenerateMusic(ctx context.Context, projectID string, req providers.MusicRequest) (*generation.MusicResult, error) {
	f.req = req
	return &generation.MusicResult{StorageRef: "track.mp3", URL: "https://media.example.com/track.mp3"}, nil
}

type testEnv struct {
	server     *Server
	repo       *store.GormRepository
	pipeline   *fakePipeline
	dispatcher *fakeDispatcher
	images     *fakeImages
	music      *fakeMusic
	hub        *progress.MemoryHub
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := store.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent", AutoMigrate: true}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	repo := store.NewGormRepository(db, logger)

	objects, err := storage.NewLocalStorage(storage.StorageConfig{
		Backend:       storage.StorageBackendLocal,
		Bucket:        t.TempDir(),
		PublicBaseURL: "https://media.example.com",
	}, logger)
	require.NoError(t, err)

	env := &testEnv{
		repo:       repo,
		pipeline:   &fakePipeline{running: map[string]bool{}},
		dispatcher: &fakeDispatcher{},
		images:     &fakeImages{repo: repo},
		music:      &fakeMusic{},
		hub:        progress.NewMemoryHub(),
	}
	env.server = NewServer(Dependencies{
		Repo:       repo,
		Pipeline:   env.pipeline,
		Dispatcher: env.dispatcher,
		Images:     env.images,
		Music:      env.music,
		Store:      objects,
		Publisher:  env.hub,
	}, Options{JWTSecret: secret, PollInterval: 20 * time.Millisecond, MaxAssets: 5}, logger)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func (e *testEnv) project(t *testing.T, owner string) *models.Project {
	t.Helper()
	p := &models.Project{OwnerID: owner, Prompt: "a lighthouse at dusk", DurationSeconds: 30}
	require.NoError(t, e.repo.CreateProject(context.Background(), p))
	return p
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, "")
	code, body := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	env.server.deps.Health = func(ctx context.Context) error { return errors.New("db down") }
	code, _ = env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	code, _ := env.do(t, http.MethodPost, "/projects", map[string]interface{}{"prompt": "x"}, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodPost, "/projects", map[string]interface{}{"prompt": "x"}, "garbage")
	assert.Equal(t, http.StatusUnauthorized, code)

	token, err := IssueToken("s3cret", "alice", time.Hour)
	require.NoError(t, err)
	code, body := env.do(t, http.MethodPost, "/projects", map[string]interface{}{"prompt": "x"}, token)
	require.Equal(t, http.StatusCreated, code)
	project := body["project"].(map[string]interface{})
	assert.Equal(t, "alice", project["ownerId"])

	other, err := IssueToken("s3cret", "bob", time.Hour)
	require.NoError(t, err)
	code, _ = env.do(t, http.MethodGet, "/projects/"+project["id"].(string), nil, other)
	assert.Equal(t, http.StatusNotFound, code)

	wrongKey, err := IssueToken("other-secret", "alice", time.Hour)
	require.NoError(t, err)
	code, _ = env.do(t, http.MethodGet, "/projects/"+project["id"].(string), nil, wrongKey)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestParseToken(t *testing.T) {
	token, err := IssueToken("k", "owner-1", time.Hour)
	require.NoError(t, err)
	sub, err := ParseToken("k", token)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", sub)

	expired, err := IssueToken("k", "owner-1", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken("k", expired)
	assert.Error(t, err)
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing prompt", map[string]interface{}{"durationSeconds": 30}},
		{"bad aspect ratio", map[string]interface{}{"prompt": "x", "aspectRatio": "21:9"}},
		{"too long", map[string]interface{}{"prompt": "x", "durationSeconds": 601}},
		{"too many assets", map[string]interface{}{"prompt": "x", "assetPrompts": []string{"a", "b", "c", "d", "e", "f"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, http.MethodPost, "/projects", tt.body, "")
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/projects", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestGetProject(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)
	ctx := context.Background()

	_, err := env.repo.ReplaceScenes(ctx, p.ID, []models.Scene{{Prompt: "one"}, {Prompt: "two"}}, false)
	require.NoError(t, err)
	scenes, err := env.repo.ListScenes(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, env.repo.SaveSceneResult(ctx, scenes[0].ID, "projects/p/scenes/1.mp4", "f.jpg", "l.jpg"))

	code, body := env.do(t, http.MethodGet, "/projects/"+p.ID, nil, "")
	require.Equal(t, http.StatusOK, code)

	views := body["scenes"].([]interface{})
	require.Len(t, views, 2)
	first := views[0].(map[string]interface{})
	assert.Equal(t, float64(1), first["sceneNumber"])
	assert.Equal(t, "https://media.example.com/projects/p/scenes/1.mp4", first["clipUrl"])
	assert.Equal(t, float64(20), body["pollIntervalMs"])
	assert.Contains(t, body, "progress")

	code, _ = env.do(t, http.MethodGet, "/projects/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSceneEditing(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)

	for _, prompt := range []string{"one", "two", "three"} {
		code, body := env.do(t, http.MethodPost, "/projects/"+p.ID+"/scenes", map[string]interface{}{"prompt": prompt}, "")
		require.Equal(t, http.StatusCreated, code, body)
	}

	code, _ := env.do(t, http.MethodDelete, "/projects/"+p.ID+"/scenes/2", nil, "")
	require.Equal(t, http.StatusOK, code)

	scenes, err := env.repo.ListScenes(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, "three", scenes[1].Prompt)
	assert.Equal(t, 2, scenes[1].SceneNumber)

	code, _ = env.do(t, http.MethodDelete, "/projects/"+p.ID+"/scenes/9", nil, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := env.do(t, http.MethodDelete, "/projects/"+p.ID+"/scenes/zero", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
}

func TestEditingRejectedWhileGenerating(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)
	require.NoError(t, env.repo.StartRun(context.Background(), p.ID))

	code, _ := env.do(t, http.MethodPost, "/projects/"+p.ID+"/scenes", map[string]interface{}{"prompt": "x"}, "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodPost, "/projects/"+p.ID+"/generate", nil, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Empty(t, env.dispatcher.dispatched)
}

func TestGenerateDispatches(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)

	code, body := env.do(t, http.MethodPost, "/projects/"+p.ID+"/generate", nil, "")
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, []string{p.ID}, env.dispatcher.dispatched)
	assert.Equal(t, []string{p.ID}, env.pipeline.reset)

	env.pipeline.running[p.ID] = true
	code, _ = env.do(t, http.MethodPost, "/projects/"+p.ID+"/generate", nil, "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestGenerateDispatchFailure(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)
	env.dispatcher.err = utils.Errorf(utils.KindTransientNetwork, "queue.Dispatch", "redis unreachable")

	code, body := env.do(t, http.MethodPost, "/projects/"+p.ID+"/generate", nil, "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, string(utils.KindTransientNetwork), body["kind"])
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)

	code, _ := env.do(t, http.MethodPost, "/projects/"+p.ID+"/cancel", nil, "")
	assert.Equal(t, http.StatusConflict, code)

	require.NoError(t, env.repo.StartRun(context.Background(), p.ID))
	code, _ = env.do(t, http.MethodPost, "/projects/"+p.ID+"/cancel", nil, "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []string{p.ID}, env.pipeline.cancelled)
}

func TestGenerateScript(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)

	code, body := env.do(t, http.MethodPost, "/projects/"+p.ID+"/generate-script", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a story", body["script"])
	assert.Len(t, body["scenes"], 1)

	env.pipeline.err = utils.Errorf(utils.KindProviderRejected, "planner", "refused")
	code, _ = env.do(t, http.MethodPost, "/projects/"+p.ID+"/generate-script", nil, "")
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestGenerateScene(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)

	code, body := env.do(t, http.MethodPost, "/projects/"+p.ID+"/scenes/generate", map[string]interface{}{
		"sceneIndex":             1,
		"prompt":                 "the storm arrives",
		"referenceImages":        []string{"https://img/1.png"},
		"previousSceneLastFrame": "https://img/last.jpg",
		"continuous":             true,
		"videoModelId":           "model-x",
		"aspectRatio":            "9:16",
		"mood":                   "tense",
	}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://media.example.com/clip.mp4", body["videoUrl"])
	assert.Equal(t, "https://media.example.com/last.jpg", body["lastFrameUrl"])

	got := env.pipeline.single
	assert.Equal(t, 1, got.SceneIndex)
	assert.True(t, got.Continuous)
	assert.Equal(t, "https://img/last.jpg", got.PreviousSceneLastFrame)
	assert.Equal(t, "9:16", got.Style.AspectRatio)
	assert.Equal(t, "tense", got.Style.Mood)

	code, body = env.do(t, http.MethodPost, "/projects/"+p.ID+"/scenes/generate", map[string]interface{}{"prompt": "x"}, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])

	env.pipeline.err = utils.Errorf(utils.KindConfiguration, "video", "no api key")
	code, _ = env.do(t, http.MethodPost, "/projects/"+p.ID+"/scenes/generate", map[string]interface{}{"sceneIndex": 0, "prompt": "x"}, "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestGenerateAll(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)

	code, body := env.do(t, http.MethodPost, "/projects/"+p.ID+"/scenes/generate-all", map[string]interface{}{
		"scenes": []map[string]interface{}{
			{"sceneIndex": 0, "prompt": "one"},
			{"sceneIndex": 1, "prompt": "two", "extendPrevious": true},
		},
		"parallel":        true,
		"assetIdToUrlMap": map[string]string{"a": "b"},
	}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://media.example.com/final.mp4", body["finalVideoUrl"])
	assert.Len(t, body["sceneUrls"], 1)
	frames := body["frameUrls"].([]interface{})
	assert.Equal(t, "f1", frames[0].(map[string]interface{})["first"])

	got := env.pipeline.all
	assert.True(t, got.Parallel)
	require.Len(t, got.Scenes, 2)
	assert.True(t, got.Scenes[1].ExtendPrevious)
	assert.NoError(t, env.pipeline.allCtxErr)

	code, body = env.do(t, http.MethodPost, "/projects/"+p.ID+"/scenes/generate-all", map[string]interface{}{"scenes": []interface{}{}}, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
}

func TestStitch(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)

	code, body := env.do(t, http.MethodPost, "/projects/"+p.ID+"/stitch", map[string]interface{}{"musicUrl": "https://audio/x.mp3"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["hasMusic"])
	assert.Equal(t, float64(3), body["sceneCount"])
	assert.Equal(t, "https://audio/x.mp3", env.pipeline.musicURL)

	code, body = env.do(t, http.MethodPost, "/projects/"+p.ID+"/stitch", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["hasMusic"])
}

func TestGenerateImage(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)

	code, body := env.do(t, http.MethodPost, "/generate-image", map[string]interface{}{"prompt": "a red kite"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://media.example.com/img.png", body["imageUrl"])
	assert.NotContains(t, body, "assetId")

	code, body = env.do(t, http.MethodPost, "/generate-image", map[string]interface{}{"prompt": "a red kite", "projectId": p.ID}, "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["assetId"])
	assert.Equal(t, float64(1), body["assetNumber"])

	assets, err := env.repo.ListAssets(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, assets, 1)

	code, _ = env.do(t, http.MethodDelete, "/projects/"+p.ID+"/assets/"+assets[0].ID, nil, "")
	assert.Equal(t, http.StatusOK, code)
	assets, err = env.repo.ListAssets(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, assets)

	code, _ = env.do(t, http.MethodPost, "/generate-image", map[string]interface{}{"prompt": "x", "projectId": "missing"}, "")
	assert.Equal(t, http.StatusNotFound, code)

	env.images.err = utils.Errorf(utils.KindConfiguration, "image", "no api key")
	code, _ = env.do(t, http.MethodPost, "/generate-image", map[string]interface{}{"prompt": "x"}, "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestGenerateMusic(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)

	code, body := env.do(t, http.MethodPost, "/projects/"+p.ID+"/generate-music", map[string]interface{}{
		"prompt":       "calm piano",
		"sample_rate":  44100,
		"audio_format": "mp3",
	}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://media.example.com/track.mp3", body["musicUrl"])
	assert.Equal(t, 44100, env.music.req.SampleRate)

	code, body = env.do(t, http.MethodPost, "/projects/"+p.ID+"/generate-music", map[string]interface{}{}, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func TestProgressSocketFinishedRun(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.project(t, AnonymousOwner)
	ctx := context.Background()
	require.NoError(t, env.repo.StartRun(ctx, p.ID))
	require.NoError(t, env.repo.FinishRun(ctx, p.ID, models.ProjectCompleted, ""))

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/projects/"+p.ID+"/progress/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap progress.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, progress.StageCompleted, snap.Stage)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestProgressSocketStreamsUpdates(t *testing.T) {
	env := newTestEnv(t, "")
	env.server.options.PollInterval = time.Hour
	p := env.project(t, AnonymousOwner)
	require.NoError(t, env.repo.StartRun(context.Background(), p.ID))

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/projects/"+p.ID+"/progress/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap progress.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.False(t, snap.Stage.Terminal())

	ctx := context.Background()
	require.NoError(t, env.hub.Publish(ctx, progress.Snapshot{ProjectID: p.ID, Stage: progress.StageScenes, Percent: 50}))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, 50, snap.Percent)

	require.NoError(t, env.hub.Publish(ctx, progress.Snapshot{ProjectID: p.ID, Stage: progress.StageCompleted, Percent: 100}))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, progress.StageCompleted, snap.Stage)
}
