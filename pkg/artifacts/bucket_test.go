package artifacts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memObjects is an in-process bucket that counts uploads.
type memObjects struct {
	data    map[string][]byte
	uploads int
	fail    error
}

func (m *memObjects) put(_ context.Context, key string, data []byte) error {
	if m.fail != nil {
		return m.fail
	}
	m.uploads++
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memObjects) get(_ context.Context, key string) ([]byte, error) {
	if d, ok := m.data[key]; ok {
		return d, nil
	}
	return nil, errNoObject
}

func (m *memObjects) head(_ context.Context, key string) error {
	if _, ok := m.data[key]; ok {
		return nil
	}
	return errNoObject
}

func (m *memObjects) remove(_ context.Context, key string) error {
	if _, ok := m.data[key]; !ok {
		return errNoObject
	}
	delete(m.data, key)
	return nil
}

func TestBucketStore_DedupesUploads(t *testing.T) {
	ctx := context.Background()
	objs := &memObjects{data: map[string][]byte{}}
	b := &bucketStore{name: "mem", prefix: "snapshots/", objs: objs}

	ref, err := b.Put(ctx, []byte(`{"counter":1}`))
	require.NoError(t, err)
	_, err = b.Put(ctx, []byte(`{"counter":1}`))
	require.NoError(t, err)
	assert.Equal(t, 1, objs.uploads)

	d, _ := digest(ref)
	assert.Contains(t, objs.data, "snapshots/"+d+".json")

	data, err := b.Get(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"counter":1}`, string(data))
}

func TestBucketStore_MissingObjects(t *testing.T) {
	ctx := context.Background()
	b := &bucketStore{name: "mem", objs: &memObjects{data: map[string][]byte{}}}
	ref := Ref([]byte("never stored"))

	_, err := b.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := b.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, b.Delete(ctx, ref))
}

func TestBucketStore_UploadFailure(t *testing.T) {
	objs := &memObjects{data: map[string][]byte{}, fail: errors.New("throttled")}
	b := &bucketStore{name: "mem", objs: objs}

	_, err := b.Put(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.NotErrorIs(t, err, ErrNotFound)
}
