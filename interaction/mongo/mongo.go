//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package mongo provides a MongoDB-backed interaction store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trpc.group/trpc-go/trpc-workflow-go/interaction"
)

const (
	defaultDatabase   = "trpc_workflow"
	defaultCollection = "interactions"
	opTimeout         = 5 * time.Second
)

// Store is a MongoDB-backed interaction.Store.
type Store struct {
	coll *mongo.Collection
}

type interactionDoc struct {
	ID          string    `bson:"_id"`
	ExecutionID string    `bson:"execution_id"`
	Status      string    `bson:"status"`
	CreatedAt   time.Time `bson:"created_at"`
	ExpiresAt   time.Time `bson:"expires_at"`
	State       []byte    `bson:"state"`
}

// NewStore returns a store over client. Empty names fall back to
// "trpc_workflow" and "interactions". An index on (execution_id, created_at)
// is created.
func NewStore(ctx context.Context, client *mongo.Client, dbName, collName string) (*Store, error) {
	if client == nil {
		return nil, errors.New("mongo client is nil")
	}
	if dbName == "" {
		dbName = defaultDatabase
	}
	if collName == "" {
		collName = defaultCollection
	}
	coll := client.Database(dbName).Collection(collName)
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "execution_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create interaction indexes: %w", err)
	}
	return &Store{coll: coll}, nil
}

func toDoc(st *interaction.State) (*interactionDoc, error) {
	data, err := interaction.Encode(st)
	if err != nil {
		return nil, err
	}
	return &interactionDoc{
		ID:          st.ID,
		ExecutionID: st.ExecutionID,
		Status:      string(st.Status),
		CreatedAt:   st.CreatedAt,
		ExpiresAt:   st.ExpiresAt,
		State:       data,
	}, nil
}

// Save implements interaction.Store.
func (s *Store) Save(ctx context.Context, st *interaction.State) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	doc, err := toDoc(st)
	if err != nil {
		return err
	}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": st.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save interaction %s: %w", st.ID, err)
	}
	return nil
}

// Get implements interaction.Store.
func (s *Store) Get(ctx context.Context, id string) (*interaction.State, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var doc interactionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, interaction.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get interaction %s: %w", id, err)
	}
	return interaction.Decode(doc.State)
}

// ListByExecution implements interaction.Store.
func (s *Store) ListByExecution(ctx context.Context, executionID string) ([]*interaction.State, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	cur, err := s.coll.Find(ctx, bson.M{"execution_id": executionID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer cur.Close(ctx)
	var out []*interaction.State
	for cur.Next(ctx) {
		var doc interactionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		st, err := interaction.Decode(doc.State)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, cur.Err()
}

// MarkProcessed implements interaction.Store. The update filters on the
// created status so only one caller can win.
func (s *Store) MarkProcessed(ctx context.Context, id string, response any, at time.Time) error {
	st, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if st.Status == interaction.StatusProcessed {
		return interaction.ErrAlreadyProcessed
	}
	st.Status = interaction.StatusProcessed
	st.Response = response
	st.ProcessedAt = &at
	data, err := interaction.Encode(st)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(interaction.StatusCreated)},
		bson.M{"$set": bson.M{"status": string(interaction.StatusProcessed), "state": data}},
	)
	if err != nil {
		return fmt.Errorf("mark interaction %s processed: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return interaction.ErrAlreadyProcessed
	}
	return nil
}

// Delete implements interaction.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete interaction %s: %w", id, err)
	}
	return nil
}

// DeleteExpired implements interaction.Store.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := s.coll.DeleteMany(ctx, bson.M{
		"status":     bson.M{"$ne": string(interaction.StatusProcessed)},
		"expires_at": bson.M{"$lte": before},
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired interactions: %w", err)
	}
	return int(res.DeletedCount), nil
}
