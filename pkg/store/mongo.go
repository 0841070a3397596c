package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/toolharbor/toolharbor/pkg/analysis"
	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/observability"
)

// MongoStore is the MongoDB-backed catalog. Parents live in packages,
// children in capabilities and dependencies keyed by the parent's
// canonical id. SavePackage runs inside a transaction so readers never
// observe a parent with half-replaced children.
type MongoStore struct {
	client       *mongo.Client
	packages     *mongo.Collection
	capabilities *mongo.Collection
	dependencies *mongo.Collection
}

// packageDoc is the parent document: the record inlined with analysis
// results and ingestion warnings.
type packageDoc struct {
	catalog.PackageRecord `bson:",inline"`

	Analysis analysis.Report `bson:"analysis"`
	Warnings []string        `bson:"warnings,omitempty"`
}

type capabilityDoc struct {
	PackageID          string `bson:"package_id"`
	catalog.Capability `bson:",inline"`
}

type dependencyDoc struct {
	PackageID              string `bson:"package_id"`
	catalog.DependencyEdge `bson:",inline"`
}

// NewMongoStore wraps the catalog collections of db and ensures indexes.
func NewMongoStore(ctx context.Context, client *mongo.Client, db *mongo.Database) (*MongoStore, error) {
	s := &MongoStore{
		client:       client,
		packages:     db.Collection("packages"),
		capabilities: db.Collection("capabilities"),
		dependencies: db.Collection("dependencies"),
	}

	_, err := s.packages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "canonical_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	for _, coll := range []*mongo.Collection{s.capabilities, s.dependencies} {
		if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "package_id", Value: 1}},
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SavePackage implements Store.
func (s *MongoStore) SavePackage(ctx context.Context, detail *PackageDetail) error {
	id := detail.Record.CanonicalID
	if id == "" {
		return errors.New(errors.ErrCodeInvalidTarget, "package record has no canonical id")
	}

	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		doc := packageDoc{
			PackageRecord: detail.Record,
			Analysis:      detail.Analysis,
			Warnings:      detail.Warnings,
		}
		if _, err := s.packages.ReplaceOne(sc,
			bson.M{"canonical_id": id}, doc,
			options.Replace().SetUpsert(true),
		); err != nil {
			return nil, err
		}

		// Children are regenerated wholesale: delete then reinsert.
		if _, err := s.capabilities.DeleteMany(sc, bson.M{"package_id": id}); err != nil {
			return nil, err
		}
		if _, err := s.dependencies.DeleteMany(sc, bson.M{"package_id": id}); err != nil {
			return nil, err
		}
		if len(detail.Capabilities) > 0 {
			docs := make([]any, len(detail.Capabilities))
			for i, c := range detail.Capabilities {
				docs[i] = capabilityDoc{PackageID: id, Capability: c}
			}
			if _, err := s.capabilities.InsertMany(sc, docs); err != nil {
				return nil, err
			}
		}
		if len(detail.Dependencies) > 0 {
			docs := make([]any, len(detail.Dependencies))
			for i, d := range detail.Dependencies {
				docs[i] = dependencyDoc{PackageID: id, DependencyEdge: d}
			}
			if _, err := s.dependencies.InsertMany(sc, docs); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err == nil {
		observability.Ingest().OnPersist(ctx, id, len(detail.Capabilities), len(detail.Dependencies))
	}
	return err
}

// GetPackage implements Store.
func (s *MongoStore) GetPackage(ctx context.Context, canonicalID string) (*PackageDetail, error) {
	var doc packageDoc
	err := s.packages.FindOne(ctx, bson.M{"canonical_id": canonicalID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.New(errors.ErrCodeNotFound, "package %s", canonicalID)
	}
	if err != nil {
		return nil, err
	}

	detail := &PackageDetail{
		Record:   doc.PackageRecord,
		Analysis: doc.Analysis,
		Warnings: doc.Warnings,
	}

	capCur, err := s.capabilities.Find(ctx, bson.M{"package_id": canonicalID})
	if err != nil {
		return nil, err
	}
	defer capCur.Close(ctx)
	for capCur.Next(ctx) {
		var c capabilityDoc
		if err := capCur.Decode(&c); err != nil {
			return nil, err
		}
		detail.Capabilities = append(detail.Capabilities, c.Capability)
	}
	if err := capCur.Err(); err != nil {
		return nil, err
	}

	depCur, err := s.dependencies.Find(ctx, bson.M{"package_id": canonicalID})
	if err != nil {
		return nil, err
	}
	defer depCur.Close(ctx)
	for depCur.Next(ctx) {
		var d dependencyDoc
		if err := depCur.Decode(&d); err != nil {
			return nil, err
		}
		detail.Dependencies = append(detail.Dependencies, d.DependencyEdge)
	}
	return detail, depCur.Err()
}

// ListPackages implements Store.
func (s *MongoStore) ListPackages(ctx context.Context, limit int) ([]catalog.PackageRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_ingested_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.packages.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []catalog.PackageRecord
	for cur.Next(ctx) {
		var doc packageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, doc.PackageRecord)
	}
	return records, cur.Err()
}

// CountPackages implements Store.
func (s *MongoStore) CountPackages(ctx context.Context) (int64, error) {
	return s.packages.CountDocuments(ctx, bson.M{})
}

// Close is a no-op; the owning process closes the shared mongo client.
func (s *MongoStore) Close(ctx context.Context) error { return nil }

var _ Store = (*MongoStore)(nil)
