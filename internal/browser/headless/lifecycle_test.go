package headless

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/require"
)

func lifecycle(frame, loader, name string) *page.EventLifecycleEvent {
	return &page.EventLifecycleEvent{FrameID: cdp.FrameID(frame), LoaderID: cdp.LoaderID(loader), Name: name}
}

func TestLifecycleWaiter_MainFrameIdle(t *testing.T) {
	t.Parallel()

	w := newLifecycleWaiter()
	w.setMainFrame("main")
	w.handle(lifecycle("main", "l1", lifecycleInit))
	w.handle(lifecycle("main", "l1", lifecycleAlmostIdle))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.wait(ctx))
}

func TestLifecycleWaiter_IgnoresStaleAndChildFrames(t *testing.T) {
	t.Parallel()

	w := newLifecycleWaiter()
	w.handle(lifecycle("main", "l0", lifecycleAlmostIdle))
	w.setMainFrame("main")
	w.handle(lifecycle("main", "blank", lifecycleInit))
	w.handle(lifecycle("main", "real", lifecycleInit))
	w.handle(lifecycle("main", "blank", lifecycleAlmostIdle))
	w.handle(lifecycle("ad-iframe", "real", lifecycleAlmostIdle))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.wait(ctx), context.DeadlineExceeded)

	w.handle(lifecycle("main", "real", lifecycleAlmostIdle))
	w.handle(lifecycle("main", "real", lifecycleAlmostIdle))
	require.NoError(t, w.wait(context.Background()))
}
