package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/toolharbor/toolharbor/pkg/analysis"
	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/errors"
)

func detail(id string, ingested time.Time) *PackageDetail {
	return &PackageDetail{
		Record: catalog.PackageRecord{
			CanonicalID:    id,
			Channel:        catalog.ChannelNPM,
			Name:           id,
			RiskLevel:      catalog.RiskSafe,
			HealthScore:    60,
			LastIngestedAt: ingested,
		},
		Capabilities: []catalog.Capability{
			{Kind: catalog.CapabilityTool, Name: "search"},
		},
		Dependencies: []catalog.DependencyEdge{
			{Library: "zod", Ecosystem: "npm", Type: catalog.DepRuntime},
		},
		Analysis: analysis.Report{Risk: catalog.RiskSafe, FilesInspected: 2},
	}
}

func TestMemoryStore_SaveAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.SavePackage(ctx, detail("npm://a", time.Now())); err != nil {
		t.Fatalf("SavePackage failed: %v", err)
	}
	got, err := s.GetPackage(ctx, "npm://a")
	if err != nil {
		t.Fatalf("GetPackage failed: %v", err)
	}
	if got.Record.Name != "npm://a" || len(got.Capabilities) != 1 || len(got.Dependencies) != 1 {
		t.Errorf("unexpected detail: %+v", got)
	}
}

func TestMemoryStore_SaveReplacesChildren(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := detail("npm://a", time.Now())
	if err := s.SavePackage(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := detail("npm://a", time.Now())
	second.Capabilities = []catalog.Capability{
		{Kind: catalog.CapabilityTool, Name: "only-this"},
	}
	second.Dependencies = nil
	if err := s.SavePackage(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPackage(ctx, "npm://a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Capabilities) != 1 || got.Capabilities[0].Name != "only-this" {
		t.Errorf("capabilities must be replaced, got %+v", got.Capabilities)
	}
	if len(got.Dependencies) != 0 {
		t.Errorf("dependencies must be replaced, got %+v", got.Dependencies)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetPackage(context.Background(), "npm://missing")
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestMemoryStore_SaveRequiresID(t *testing.T) {
	s := NewMemoryStore()
	err := s.SavePackage(context.Background(), &PackageDetail{})
	if !errors.Is(err, errors.ErrCodeInvalidTarget) {
		t.Fatalf("expected INVALID_TARGET, got %v", err)
	}
}

func TestMemoryStore_ListOrderAndLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	for i := range 5 {
		d := detail(fmt.Sprintf("npm://pkg-%d", i), base.Add(time.Duration(i)*time.Second))
		if err := s.SavePackage(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.ListPackages(ctx, 3)
	if err != nil {
		t.Fatalf("ListPackages failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].CanonicalID != "npm://pkg-4" {
		t.Errorf("expected most recently ingested first, got %s", records[0].CanonicalID)
	}

	n, err := s.CountPackages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("expected count 5, got %d", n)
	}
}
