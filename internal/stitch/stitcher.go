package stitch

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"scenecraft/pkg/httpclient"
	"scenecraft/pkg/storage"
	"scenecraft/pkg/utils"
)

// Joiner is the subset of ffmpeg the stitcher needs
type Joiner interface {
	Concat(ctx context.Context, clips []string, outputPath string) error
	MergeAudio(ctx context.Context, videoPath, audioPath, outputPath string, volume float64) error
}

// FinalVideoKey is the single object every stitch of a project writes to
func FinalVideoKey(projectID string) string {
	return path.Join("projects", projectID, "final", "final.mp4")
}

// Request is a complete stitch
type Request struct {
	ProjectID string
	// ClipRefs must already be in scene order
	ClipRefs []string
	AudioRef string
	Volume   float64
}

// Result describes the published final video
type Result struct {
	FinalRef   string
	URL        string
	SceneCount int
	HasMusic   bool
}

// Session is an in-progress stitch held in a scratch directory. Close it
// when done.
type Session struct {
	ProjectID  string
	dir        string
	videoPath  string
	sceneCount int
	hasMusic   bool
}

// Stitcher joins scene clips into the final video
type Stitcher struct {
	joiner  Joiner
	client  httpclient.Client
	store   storage.Storage
	workDir string
	logger  *zap.Logger
}

// New creates a stitcher
func New(joiner Joiner, client httpclient.Client, store storage.Storage, workDir string, logger *zap.Logger) *Stitcher {
	return &Stitcher{
		joiner:  joiner,
		client:  client,
		store:   store,
		workDir: workDir,
		logger:  logger.With(zap.String("component", "stitcher")),
	}
}

// Concat fetches the clips and joins them losslessly in the given order
func (s *Stitcher) Concat(ctx context.Context, projectID string, clipRefs []string) (*Session, error) {
	const op = "stitch.concat"
	if len(clipRefs) == 0 {
		return nil, utils.Errorf(utils.KindValidation, op, "no completed scenes to stitch")
	}
	for i, ref := range clipRefs {
		if ref == "" {
			return nil, utils.Errorf(utils.KindValidation, op, "scene %d has no clip", i+1)
		}
	}

	dir, err := utils.NewWorkspace(s.workDir, "stitch-")
	if err != nil {
		return nil, utils.E(utils.KindInternal, op, err)
	}
	sess := &Session{ProjectID: projectID, dir: dir, sceneCount: len(clipRefs)}

	locals := make([]string, len(clipRefs))
	for i, ref := range clipRefs {
		locals[i] = filepath.Join(dir, fmt.Sprintf("scene-%03d%s", i+1, utils.ExtensionFromURL(ref, ".mp4")))
		if err := s.fetch(ctx, ref, locals[i]); err != nil {
			s.Close(sess)
			return nil, err
		}
	}

	sess.videoPath = filepath.Join(dir, "joined.mp4")
	if err := s.joiner.Concat(ctx, locals, sess.videoPath); err != nil {
		s.Close(sess)
		return nil, utils.E(utils.KindInternal, op, err)
	}
	return sess, nil
}

// MergeAudio muxes the audio track over the joined video
func (s *Stitcher) MergeAudio(ctx context.Context, sess *Session, audioRef string, volume float64) error {
	const op = "stitch.audio"
	if audioRef == "" {
		return nil
	}

	audioPath := filepath.Join(sess.dir, "audio"+utils.ExtensionFromURL(audioRef, ".mp3"))
	if err := s.fetch(ctx, audioRef, audioPath); err != nil {
		return err
	}

	mixed := filepath.Join(sess.dir, "mixed.mp4")
	if err := s.joiner.MergeAudio(ctx, sess.videoPath, audioPath, mixed, volume); err != nil {
		return utils.E(utils.KindInternal, op, err)
	}
	sess.videoPath = mixed
	sess.hasMusic = true
	return nil
}

// Publish writes the session's video to the project's final key, replacing
// any earlier final video
func (s *Stitcher) Publish(ctx context.Context, sess *Session) (*Result, error) {
	const op = "stitch.publish"
	key := FinalVideoKey(sess.ProjectID)
	if err := s.store.ReplaceObject(ctx, key, sess.videoPath); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, utils.E(utils.KindCancelled, op, err)
		}
		return nil, utils.E(utils.KindUploadFailed, op, err)
	}

	s.logger.Info("Published final video",
		zap.String("project_id", sess.ProjectID),
		zap.String("key", key),
		zap.Int("scenes", sess.sceneCount),
		zap.Bool("has_music", sess.hasMusic))

	return &Result{
		FinalRef:   key,
		URL:        s.store.URL(key),
		SceneCount: sess.sceneCount,
		HasMusic:   sess.hasMusic,
	}, nil
}

// Close removes the session's scratch directory
func (s *Stitcher) Close(sess *Session) {
	if sess == nil {
		return
	}
	if err := utils.CleanupWorkspace(s.workDir, sess.dir); err != nil {
		s.logger.Warn("Failed to clean up stitch workspace", zap.String("dir", sess.dir), zap.Error(err))
	}
}

// Stitch runs concat, the optional audio merge and publish in one call
func (s *Stitcher) Stitch(ctx context.Context, req Request) (*Result, error) {
	sess, err := s.Concat(ctx, req.ProjectID, req.ClipRefs)
	if err != nil {
		return nil, err
	}
	defer s.Close(sess)

	if err := s.MergeAudio(ctx, sess, req.AudioRef, req.Volume); err != nil {
		return nil, err
	}
	return s.Publish(ctx, sess)
}

// fetch copies a stored ref or remote URL to local
func (s *Stitcher) fetch(ctx context.Context, ref, local string) error {
	const op = "stitch.fetch"
	var err error
	if utils.IsRemoteURL(ref) {
		_, err = s.client.Download(ctx, ref, local)
	} else {
		err = s.store.DownloadObject(ctx, ref, local)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return utils.E(utils.KindCancelled, op, err)
	}
	return utils.E(utils.KindDownloadFailed, op, fmt.Errorf("%s: %w", ref, err))
}
