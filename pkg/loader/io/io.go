package io

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FileSource loads document payloads from the local filesystem with caching.
// Keys are paths relative to the root directory.
type FileSource struct {
	root string

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewFileSource creates a filesystem source rooted at root. An empty root
// resolves keys against the working directory.
func NewFileSource(root string) *FileSource {
	return &FileSource{
		root:  root,
		cache: make(map[string][]byte),
	}
}

// Get reads the file behind key. Results are cached.
func (l *FileSource) Get(ctx context.Context, key string) ([]byte, error) {
	p := key
	if l.root != "" && !filepath.IsAbs(key) {
		p = filepath.Join(l.root, key)
	}

	l.cacheMu.RLock()
	if cached, ok := l.cache[p]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(p, func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}

		l.cacheMu.Lock()
		l.cache[p] = data
		l.cacheMu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
