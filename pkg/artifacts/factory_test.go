package artifacts

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNew_DefaultsToFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snaps")
	store, err := New(context.Background(), Config{Dir: dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	fs, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("Expected *FileStore, got %T", store)
	}
	if fs.baseDir != dir {
		t.Errorf("Expected baseDir %s, got %s", dir, fs.baseDir)
	}
}

func TestNew_BucketRequired(t *testing.T) {
	for _, typ := range []StoreType{StoreTypeS3, StoreTypeGCS} {
		if _, err := New(context.Background(), Config{Type: typ}); err == nil {
			t.Errorf("%s: expected error for missing bucket", typ)
		}
	}
}

func TestNew_UnknownType(t *testing.T) {
	if _, err := New(context.Background(), Config{Type: "tape"}); err == nil {
		t.Fatal("expected error for unknown store type")
	}
}
