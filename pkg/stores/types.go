package stores

import (
	"context"
	"time"
)

// LoadMode is the plugin loader mode that produced a load record.
type LoadMode string

const (
	LoadModeDiscover LoadMode = "discover"
	LoadModeKnown    LoadMode = "load"
)

// LoadStatus is the outcome of a load.
type LoadStatus string

const (
	LoadStatusSuccess LoadStatus = "success"
	LoadStatusFailed  LoadStatus = "failed"
)

// Measure is a catalogued measure file.
type Measure struct {
	ID           string     `json:"id"`
	Path         string     `json:"path"`
	Backend      string     `json:"backend"`
	ClassName    string     `json:"class_name"`
	Kind         string     `json:"kind"`
	Checksum     string     `json:"checksum"` // sha256 of the file contents
	LoadCount    int64      `json:"load_count"`
	LastLoadedAt *time.Time `json:"last_loaded_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// LoadRecord audits one discovery or known-class load.
type LoadRecord struct {
	ID         string     `json:"id"`
	Path       string     `json:"path"`
	Backend    string     `json:"backend"`
	ClassName  string     `json:"class_name"`
	Mode       LoadMode   `json:"mode"`
	Status     LoadStatus `json:"status"`
	Error      *string    `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	CreatedAt  time.Time  `json:"created_at"`
}

// MeasureFilter narrows ListMeasures. Zero fields match everything.
type MeasureFilter struct {
	Backend string
	Kind    string
	Limit   int
	Offset  int
}

// Store defines the interface for the measure catalog.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Measure operations
	UpsertMeasure(ctx context.Context, m *Measure) error
	GetMeasure(ctx context.Context, path, backend string) (*Measure, error)
	ListMeasures(ctx context.Context, filter MeasureFilter) ([]*Measure, error)
	DeleteMeasure(ctx context.Context, id string) error

	// Load audit operations
	RecordLoad(ctx context.Context, rec *LoadRecord) error
	ListLoads(ctx context.Context, path *string, limit, offset int) ([]*LoadRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
