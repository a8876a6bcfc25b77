package headless

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

const (
	lifecycleInit       = "init"
	lifecycleAlmostIdle = "networkAlmostIdle"
)

// lifecycleWaiter closes idle once the main frame's current document reports
// networkAlmostIdle: no more than two connections open for 500ms.
type lifecycleWaiter struct {
	mu        sync.Mutex
	mainFrame cdp.FrameID
	loader    cdp.LoaderID
	idle      chan struct{}
	once      sync.Once
}

func newLifecycleWaiter() *lifecycleWaiter {
	return &lifecycleWaiter{idle: make(chan struct{})}
}

func (w *lifecycleWaiter) setMainFrame(id cdp.FrameID) {
	w.mu.Lock()
	w.mainFrame = id
	w.mu.Unlock()
}

func (w *lifecycleWaiter) handle(ev *page.EventLifecycleEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mainFrame == "" || ev.FrameID != w.mainFrame {
		return
	}
	switch ev.Name {
	case lifecycleInit:
		w.loader = ev.LoaderID
	case lifecycleAlmostIdle:
		if w.loader != "" && ev.LoaderID == w.loader {
			w.once.Do(func() { close(w.idle) })
		}
	}
}

func (w *lifecycleWaiter) wait(ctx context.Context) error {
	select {
	case <-w.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
