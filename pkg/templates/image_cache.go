package templates

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// cachedImage is a decoded image together with the file state it was read at
type cachedImage struct {
	img     image.Image
	modTime time.Time
	size    int64
}

// ImageCache decodes template images once and serves them until the file
// on disk changes.
type ImageCache struct {
	images map[string]*cachedImage
	mu     sync.RWMutex
	stats  CacheStats
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits    int64 // served from memory
	Misses  int64 // had to decode
	Reloads int64 // file changed since last decode
	Evicted int64
}

// NewImageCache creates a new image cache
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]*cachedImage),
	}
}

// Load returns the decoded image at path, reading the file only when it is
// not cached or its modification time or size changed.
func (ic *ImageCache) Load(path string) (image.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateMissing, path)
		}
		return nil, fmt.Errorf("failed to stat template image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("template image %s is a directory", path)
	}

	ic.mu.RLock()
	cached, ok := ic.images[path]
	ic.mu.RUnlock()

	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		ic.mu.Lock()
		ic.stats.Hits++
		ic.mu.Unlock()
		return cached.img, nil
	}

	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ok {
		ic.stats.Reloads++
	} else {
		ic.stats.Misses++
	}
	ic.images[path] = &cachedImage{img: img, modTime: info.ModTime(), size: info.Size()}
	return img, nil
}

// Evict drops path from the cache
func (ic *ImageCache) Evict(path string) bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	if _, ok := ic.images[path]; !ok {
		return false
	}
	delete(ic.images, path)
	ic.stats.Evicted++
	return true
}

// Clear empties the cache
func (ic *ImageCache) Clear() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.stats.Evicted += int64(len(ic.images))
	ic.images = make(map[string]*cachedImage)
}

// Len returns the number of cached images
func (ic *ImageCache) Len() int {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return len(ic.images)
}

// Stats returns cache statistics
func (ic *ImageCache) Stats() CacheStats {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return ic.stats
}

func decodeFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("template %s has no pixels", path)
	}
	return img, nil
}
