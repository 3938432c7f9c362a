package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"ideaforge/pkg/domain"
)

const MarkdownContentType = "text/markdown; charset=utf-8"

// ObjectStore holds exported documents.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// DocumentKey returns the object key for an exported document.
func DocumentKey(doc domain.ProjectDocument) string {
	return path.Join("projects", doc.ProjectID, "documents", doc.ID, string(doc.Type)+".md")
}

// RenderMarkdown prefixes the generated content with its title unless the
// content already opens with a heading.
func RenderMarkdown(doc domain.ProjectDocument) []byte {
	var buf bytes.Buffer
	content := strings.TrimSpace(doc.Content)
	if !strings.HasPrefix(content, "#") {
		fmt.Fprintf(&buf, "# %s\n\n", doc.Title)
	}
	buf.WriteString(content)
	buf.WriteString("\n")
	return buf.Bytes()
}

// MemoryStore keeps objects in process for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("presign get: object %s not found", key)
	}
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.bucket, key, int(expiry.Seconds())), nil
}

// Object returns a stored object's bytes and content type.
func (m *MemoryStore) Object(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}
