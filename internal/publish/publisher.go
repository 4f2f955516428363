package publish

import (
	"context"
	"fmt"
	"os"

	"github.com/duckpipe/duckpipe/internal/dataset"
	"github.com/duckpipe/duckpipe/internal/storage"
)

// Publisher uploads export artifacts to an object store, keyed by the
// artifact file name. Prefixing is the store's concern.
type Publisher struct {
	store storage.ObjectStore
}

func New(store storage.ObjectStore) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Publisher{store: store}, nil
}

func (p *Publisher) Publish(ctx context.Context, localPath, name string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact %q: %w", localPath, err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact %q: %w", localPath, err)
	}

	contentType := "application/octet-stream"
	if format, err := dataset.Infer(name); err == nil {
		contentType = format.ContentType()
	}

	if _, err := p.store.Put(ctx, name, file, info.Size(), storage.PutOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("upload artifact %q: %w", name, err)
	}
	return nil
}
