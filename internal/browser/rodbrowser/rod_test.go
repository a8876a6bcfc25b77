package rodbrowser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rum-crawler/internal/browser"
	"github.com/JakeFAU/rum-crawler/internal/crawler"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(browser.Options{Granularity: "page"}, nil)
	require.Error(t, err)

	d, err := New(browser.Options{Granularity: "context"}, nil)
	require.NoError(t, err)
	require.Equal(t, browser.GranularityContext, d.opts.Granularity)
	require.NoError(t, d.Close())

	_, err = d.NewSession(context.Background())
	require.Error(t, err)
}

func TestNewSession_CanceledContext(t *testing.T) {
	t.Parallel()

	d, err := New(browser.Options{Headless: true}, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.NewSession(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	expired, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()
	require.ErrorIs(t, classify(expired, "http://a.example", context.Canceled), crawler.ErrNavigationTimeout)
	require.ErrorIs(t, classify(context.Background(), "http://a.example", fmt.Errorf("net::ERR_ABORTED")), crawler.ErrNavigation)
}

func TestConsoleText(t *testing.T) {
	t.Parallel()

	args := []*proto.RuntimeRemoteObject{
		{Type: proto.RuntimeRemoteObjectTypeObject, Description: "Window"},
		nil,
	}
	require.Equal(t, "Window", consoleText(args))
}

func TestDriver_LoadAndEval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><head><script>window.LUX = {version: 314};</script></head><body></body></html>`)
	}))
	defer srv.Close()

	for _, granularity := range []browser.Granularity{browser.GranularityProcess, browser.GranularityContext} {
		t.Run(string(granularity), func(t *testing.T) {
			d, err := New(browser.Options{Granularity: granularity, Headless: true, NoSandbox: true}, zap.NewNop())
			require.NoError(t, err)
			defer d.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			sess, err := d.NewSession(ctx)
			if err != nil {
				t.Skipf("chrome unavailable: %v", err)
			}
			defer sess.Close()

			p, err := sess.Load(ctx, srv.URL)
			require.NoError(t, err)
			defer p.Close()

			var version int
			require.NoError(t, p.Eval(ctx, "window.LUX.version", &version))
			require.Equal(t, 314, version)
			require.NoError(t, sess.Reset(ctx))
		})
	}
}
