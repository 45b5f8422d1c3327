package artifacts

import (
	"context"
	"errors"
	"fmt"
)

// errNoObject is what an objects implementation returns for a missing key.
var errNoObject = errors.New("no such object")

// objects is the slice of a cloud bucket API the snapshot store needs.
type objects interface {
	put(ctx context.Context, key string, data []byte) error
	get(ctx context.Context, key string) ([]byte, error)
	head(ctx context.Context, key string) error
	remove(ctx context.Context, key string) error
}

// bucketStore maps references onto object keys under a prefix. Objects are
// immutable once written, so Put skips the upload when the key exists.
type bucketStore struct {
	name   string
	prefix string
	objs   objects
}

func (b *bucketStore) key(ref string) (string, error) {
	d, err := digest(ref)
	if err != nil {
		return "", err
	}
	return objectKey(b.prefix, d), nil
}

func (b *bucketStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := Ref(data)
	key, _ := b.key(ref)
	if b.objs.head(ctx, key) == nil {
		return ref, nil
	}
	if err := b.objs.put(ctx, key, data); err != nil {
		return "", fmt.Errorf("artifacts: %s upload %s: %w", b.name, ref, err)
	}
	return ref, nil
}

func (b *bucketStore) Get(ctx context.Context, ref string) ([]byte, error) {
	key, err := b.key(ref)
	if err != nil {
		return nil, err
	}
	data, err := b.objs.get(ctx, key)
	switch {
	case errors.Is(err, errNoObject):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case err != nil:
		return nil, fmt.Errorf("artifacts: %s download %s: %w", b.name, ref, err)
	}
	return data, nil
}

func (b *bucketStore) Exists(ctx context.Context, ref string) (bool, error) {
	key, err := b.key(ref)
	if err != nil {
		return false, err
	}
	err = b.objs.head(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNoObject):
		return false, nil
	default:
		return false, fmt.Errorf("artifacts: %s stat %s: %w", b.name, ref, err)
	}
}

// Delete is idempotent.
func (b *bucketStore) Delete(ctx context.Context, ref string) error {
	key, err := b.key(ref)
	if err != nil {
		return err
	}
	if err := b.objs.remove(ctx, key); err != nil && !errors.Is(err, errNoObject) {
		return fmt.Errorf("artifacts: %s delete %s: %w", b.name, ref, err)
	}
	return nil
}
