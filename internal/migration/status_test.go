package migration

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestEngine_Status(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	users := f.tree.AddTable("users")
	posts := f.tree.AddTable("posts")
	f.sync(t)
	if _, err := f.engine.Run(ctx, Selection{Count: 1}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	f.tree.Remove(posts)
	comments := f.tree.AddTable("comments")

	entries, err := f.engine.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	want := []StatusEntry{
		{ID: users, Pending: false, OnDisk: true, InMetadata: true},
		{ID: posts, Pending: true, OnDisk: false, InMetadata: true},
		{ID: comments, OnDisk: true},
	}
	if !slices.Equal(entries, want) {
		t.Fatalf("unexpected status\n got: %+v\nwant: %+v", entries, want)
	}
}

func TestEngine_StatusMetadataMissing(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.Status(context.Background()); !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("expected ErrMetadataMissing, got %v", err)
	}
}
