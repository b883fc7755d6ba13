package intake

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PreviewPathPrefix is the URL path under which previews are served.
const PreviewPathPrefix = "/api/previews/"

type preview struct {
	data        []byte
	contentType string
}

// PreviewRegistry holds the bytes behind preview handles for the lifetime of
// the process, until released.
type PreviewRegistry struct {
	mu    sync.RWMutex
	items map[string]preview
}

func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{items: make(map[string]preview)}
}

// Register stores data and returns its handle.
func (p *PreviewRegistry) Register(data []byte, contentType string) string {
	id := uuid.NewString()

	p.mu.Lock()
	p.items[id] = preview{data: data, contentType: contentType}
	p.mu.Unlock()

	return PreviewPathPrefix + id
}

// Resolve looks a preview up by id (the last path segment of its handle).
func (p *PreviewRegistry) Resolve(id string) ([]byte, string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	item, ok := p.items[id]
	return item.data, item.contentType, ok
}

// Release drops the preview behind handle. Unknown handles are ignored.
func (p *PreviewRegistry) Release(handle string) {
	id, ok := strings.CutPrefix(handle, PreviewPathPrefix)
	if !ok {
		return
	}

	p.mu.Lock()
	delete(p.items, id)
	p.mu.Unlock()
}

func (p *PreviewRegistry) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}
