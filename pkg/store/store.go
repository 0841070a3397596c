// Package store persists harvested packages: the parent record plus its
// capability and dependency children. Children are replaced wholesale on
// every save so a re-ingested package never accumulates stale rows.
package store

import (
	"context"

	"github.com/toolharbor/toolharbor/pkg/analysis"
	"github.com/toolharbor/toolharbor/pkg/catalog"
)

// PackageDetail is the full persisted state of one package.
type PackageDetail struct {
	Record       catalog.PackageRecord    `json:"record" bson:"record"`
	Capabilities []catalog.Capability     `json:"capabilities,omitempty" bson:"capabilities,omitempty"`
	Dependencies []catalog.DependencyEdge `json:"dependencies,omitempty" bson:"dependencies,omitempty"`
	Analysis     analysis.Report          `json:"analysis" bson:"analysis"`
	Warnings     []string                 `json:"warnings,omitempty" bson:"warnings,omitempty"`
}

// Store is the durable catalog. Implementations must make SavePackage
// atomic: the parent upsert and the child replacement land together or
// not at all.
type Store interface {
	// SavePackage upserts the parent record keyed on canonical id and
	// replaces its capability and dependency children.
	SavePackage(ctx context.Context, detail *PackageDetail) error

	// GetPackage returns the full detail for one canonical id, or a
	// NOT_FOUND error.
	GetPackage(ctx context.Context, canonicalID string) (*PackageDetail, error)

	// ListPackages returns up to limit parent records, most recently
	// ingested first.
	ListPackages(ctx context.Context, limit int) ([]catalog.PackageRecord, error)

	// CountPackages returns the catalog size.
	CountPackages(ctx context.Context) (int64, error)

	Close(ctx context.Context) error
}
