package types

import "time"

// SessionStatus is the top-level lifecycle state of a session.
type SessionStatus string

const (
	// StatusUploaded means the session is registered with input images but
	// processing has not been requested yet.
	StatusUploaded SessionStatus = "uploaded"
	// StatusPending exists only instantaneously between start acceptance and
	// the first stage.
	StatusPending SessionStatus = "pending"
	StatusRunning SessionStatus = "running"
	StatusComplete  SessionStatus = "complete"
	StatusError     SessionStatus = "error"
	StatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// SessionError is the structured terminal failure attached to a session.
type SessionError struct {
	// Stage that failed, empty for pre-stage failures (e.g. workspace setup).
	// example: feature-matching
	Stage string `json:"stage,omitempty" example:"feature-matching"`
	// Failure reason: timeout, nonzero-exit, missing-artifact, workspace,
	// result-assembly or internal.
	// example: nonzero-exit
	Reason string `json:"reason" example:"nonzero-exit"`
	// Human-readable message.
	Message string `json:"message"`
	// Bounded excerpt of the engine's diagnostic output, when available.
	Diagnostic string `json:"diagnostic,omitempty"`
}

// SessionSnapshot is an immutable point-in-time view of one session. All
// registry reads return copies; mutating a snapshot never affects the store.
type SessionSnapshot struct {
	// Opaque session identifier.
	// example: 1fdc4f58-9a2e-4b6f-9b3a-0b4f54f2a8f1
	SessionID string `json:"session_id" example:"1fdc4f58-9a2e-4b6f-9b3a-0b4f54f2a8f1"`
	Status    SessionStatus `json:"status" example:"running"`
	// Current pipeline stage, empty while not running a stage.
	// example: sparse-reconstruction
	Stage string `json:"stage,omitempty" example:"sparse-reconstruction"`
	// Cumulative progress in [0,100]; monotonically non-decreasing while running.
	// example: 55.0
	ProgressPercent float64 `json:"progress_percent" example:"55.0"`
	// Human-readable current activity.
	// example: Performing sparse 3D reconstruction
	Message string `json:"message" example:"Performing sparse 3D reconstruction"`
	// Number of staged input images.
	// example: 5
	ImageCount int        `json:"image_count" example:"5"`
	StartedAt  time.Time  `json:"started_at"`
	// Nil while the session is not in a terminal state.
	EndedAt *time.Time    `json:"ended_at,omitempty"`
	Error   *SessionError `json:"error,omitempty"`
	// Populated only when Status is complete.
	Manifest        *OutputManifest `json:"manifest,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
}

// BoundingBox is an axis-aligned bounding volume with a derived center.
type BoundingBox struct {
	Min    [3]float64 `json:"min"`
	Max    [3]float64 `json:"max"`
	Center [3]float64 `json:"center"`
}

// Artifact describes one output file referenced by the manifest.
type Artifact struct {
	// Artifact kind: sparse-cameras, sparse-images, sparse-points,
	// sparse-pointcloud, dense-pointcloud or mesh.
	// example: sparse-pointcloud
	Kind string `json:"kind" example:"sparse-pointcloud"`
	// Absolute path inside the session's output directory.
	Path string `json:"path"`
	// example: 1048576
	SizeBytes int64 `json:"size_bytes" example:"1048576"`
	// File format: ply or bin.
	// example: ply
	Format string `json:"format" example:"ply"`
	// Derived metadata; zero values when the format does not carry them.
	VertexCount int          `json:"vertex_count,omitempty"`
	FaceCount   int          `json:"face_count,omitempty"`
	HasColors   bool         `json:"has_colors,omitempty"`
	HasNormals  bool         `json:"has_normals,omitempty"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
}

// OutputManifest is the structured result of a completed pipeline. Built once
// by the result collector and immutable after creation.
type OutputManifest struct {
	SessionID string     `json:"session_id"`
	CreatedAt time.Time  `json:"created_at"`
	Artifacts []Artifact `json:"artifacts"`
	// Path to the zip archive bundling all artifacts plus metadata.json.
	ArchivePath string `json:"archive_path"`
}

// CreateSessionRequest registers a session and its input images.
type CreateSessionRequest struct {
	// Optional caller-supplied id; a UUID is generated when empty.
	SessionID string `json:"session_id,omitempty"`
	// Ordered list of input image paths, already validated by the upload layer.
	Images []string `json:"images"`
}

// CreateSessionResponse acknowledges a registered session.
type CreateSessionResponse struct {
	SessionID  string `json:"session_id"`
	ImageCount int    `json:"image_count"`
}

// ProcessRequest configures a pipeline run.
type ProcessRequest struct {
	// Run dense reconstruction after the sparse stage.
	// example: false
	EnableDense bool `json:"enable_dense,omitempty" example:"false"`
	// Generate a mesh from the dense point cloud; requires enable_dense.
	// example: false
	EnableMeshing bool `json:"enable_meshing,omitempty" example:"false"`
	// Maximum image dimension for feature extraction. 0 uses the server default.
	// example: 1920
	MaxImageSize int `json:"max_image_size,omitempty" example:"1920"`
	// Feature matcher: exhaustive or sequential. Empty uses the server default.
	// example: exhaustive
	MatcherType string `json:"matcher_type,omitempty" example:"exhaustive"`
}

// StatusResponse is the daemon-level aggregate returned by GET /status.
type StatusResponse struct {
	// Total registered sessions.
	// example: 3
	Sessions int `json:"sessions" example:"3"`
	// example: 1
	Running int `json:"running" example:"1"`
	// example: 1
	Complete  int `json:"complete" example:"1"`
	Errored   int `json:"errored"`
	Cancelled int `json:"cancelled"`
	// Injected cap on simultaneously running pipelines.
	// example: 4
	MaxConcurrent int `json:"max_concurrent" example:"4"`
	// Path of the external reconstruction engine binary.
	// example: /usr/local/bin/colmap
	EnginePath string `json:"engine_path" example:"/usr/local/bin/colmap"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: session not found
	Error string `json:"error" example:"session not found"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}
