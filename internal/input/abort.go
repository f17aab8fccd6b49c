package input

import (
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// AbortWatcher reports presses of a designated abort key
type AbortWatcher interface {
	// Watch returns a channel that is closed when key goes down. stop
	// releases the watch and must always be called.
	Watch(key string) (pressed <-chan struct{}, stop func())
}

// HookWatcher watches the keyboard through a global gohook session. gohook
// keeps one process-wide event loop, so watches are serialized.
type HookWatcher struct {
	mu sync.Mutex
}

// NewHookWatcher creates a keyboard watcher
func NewHookWatcher() *HookWatcher {
	return &HookWatcher{}
}

func (w *HookWatcher) Watch(key string) (<-chan struct{}, func()) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return nil, func() {}
	}

	w.mu.Lock()

	pressed := make(chan struct{})
	var once sync.Once
	hook.Register(hook.KeyDown, []string{key}, func(e hook.Event) {
		once.Do(func() { close(pressed) })
	})

	s := hook.Start()
	done := hook.Process(s)

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			hook.End()
			<-done
			w.mu.Unlock()
		})
	}
	return pressed, stop
}

// NoAbort never fires
type NoAbort struct{}

func (NoAbort) Watch(string) (<-chan struct{}, func()) {
	return nil, func() {}
}
