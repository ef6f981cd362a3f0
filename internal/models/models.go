package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProjectStatus is the pipeline status of a project
type ProjectStatus string

const (
	ProjectDraft      ProjectStatus = "draft"
	ProjectGenerating ProjectStatus = "generating"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectFailed     ProjectStatus = "failed"
)

// SceneStatus is the generation status of a single scene
type SceneStatus string

const (
	ScenePending    SceneStatus = "pending"
	SceneGenerating SceneStatus = "generating"
	SceneCompleted  SceneStatus = "completed"
	SceneFailed     SceneStatus = "failed"
	SceneSkipped    SceneStatus = "skipped"
)

// Terminal reports whether no further work happens on the scene in this run
func (s SceneStatus) Terminal() bool {
	return s == SceneCompleted || s == SceneFailed || s == SceneSkipped
}

// AssetKind classifies stored assets
type AssetKind string

const (
	AssetImage    AssetKind = "image"
	AssetAudio    AssetKind = "audio"
	AssetVideo    AssetKind = "video"
	AssetBrandKit AssetKind = "brand-kit"
)

// Style groups the style parameters sent to every provider
type Style struct {
	Mood         string `gorm:"size:64" json:"mood"`
	AspectRatio  string `gorm:"size:16" json:"aspectRatio"`
	ColorPalette string `gorm:"size:128" json:"colorPalette"`
	Pacing       string `gorm:"size:64" json:"pacing"`
	VisualStyle  string `gorm:"size:128" json:"style"`
}

// Project is the unit a pipeline run operates on
type Project struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	OwnerID  string `gorm:"size:128;index" json:"ownerId"`
	Prompt   string `gorm:"type:text" json:"prompt"`
	Category string `gorm:"size:64" json:"category"`
	Style    `gorm:"embedded"`

	DurationSeconds int    `json:"durationSeconds"`
	VideoModelID    string `gorm:"size:128" json:"videoModelId"`
	ImageModelID    string `gorm:"size:128" json:"imageModelId"`

	UseReferenceFrame bool `json:"useReferenceFrame"`
	Continuous        bool `json:"continuous"`
	Parallel          bool `json:"parallel"`

	// AssetPrompts are the declared reference assets; prompt i maps to asset number i+1
	AssetPrompts datatypes.JSONSlice[string] `json:"assetPrompts"`
	MusicRef     string                      `gorm:"size:512" json:"musicRef,omitempty"`
	MusicVolume  float64                     `json:"musicVolume"`
	Script       string                      `gorm:"type:text" json:"script,omitempty"`

	Status        ProjectStatus `gorm:"size:16;default:draft;index" json:"status"`
	FinalVideoRef string        `gorm:"size:512" json:"finalVideoRef,omitempty"`

	// checkpoint columns, written only through the progress sink
	PipelineStage   string            `gorm:"size:32" json:"pipelineStage,omitempty"`
	ProgressPercent int               `json:"progressPercent"`
	ProgressMessage string            `gorm:"size:255" json:"progressMessage,omitempty"`
	PipelineError   string            `gorm:"type:text" json:"pipelineError,omitempty"`
	SceneStatuses   datatypes.JSONMap `json:"sceneStatuses,omitempty"`
	RunStartedAt    *time.Time        `json:"runStartedAt,omitempty"`
	RunFinishedAt   *time.Time        `json:"runFinishedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns an id
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = ProjectDraft
	}
	return nil
}

// Scene is one generated clip of a project, ordered by SceneNumber
type Scene struct {
	ID              string  `gorm:"primaryKey;size:36" json:"id"`
	ProjectID       string  `gorm:"size:36;index" json:"projectId"`
	SceneNumber     int     `gorm:"not null" json:"sceneNumber"`
	Prompt          string  `gorm:"type:text" json:"prompt"`
	DurationSeconds float64 `json:"duration"`
	StartTime       float64 `json:"startTime"`
	EndTime         float64 `json:"endTime"`

	SelectedAssetIDs datatypes.JSONSlice[string] `json:"selectedAssetIds"`
	ExtendPrevious   bool                        `json:"extendPrevious"`

	ClipRef       string      `gorm:"size:512" json:"clipRef,omitempty"`
	FirstFrameRef string      `gorm:"size:512" json:"firstFrameRef,omitempty"`
	LastFrameRef  string      `gorm:"size:512" json:"lastFrameRef,omitempty"`
	Status        SceneStatus `gorm:"size:16;default:pending" json:"status"`
	Error         string      `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns an id
func (s *Scene) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = ScenePending
	}
	return nil
}

// HasClip reports whether the scene finished with a stored clip
func (s *Scene) HasClip() bool {
	return s.Status == SceneCompleted && s.ClipRef != ""
}

// Asset is a stored reference image, audio track or brand kit
type Asset struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	ProjectID   *string   `gorm:"size:36;index" json:"projectId,omitempty"`
	Kind        AssetKind `gorm:"size:16" json:"kind"`
	Prompt      string    `gorm:"type:text" json:"prompt"`
	StorageRef  string    `gorm:"size:512" json:"storageRef"`
	AssetNumber int       `json:"assetNumber"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BeforeCreate assigns an id
func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// All returns every model for migration
func All() []interface{} {
	return []interface{}{&Project{}, &Scene{}, &Asset{}}
}
