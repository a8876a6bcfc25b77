package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/rum-crawler/internal/crawler"
)

func newFakeClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return srv, client
}

func TestSink_PublishesOutcome(t *testing.T) {
	t.Parallel()

	srv, client := newFakeClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "rum-outcomes")
	require.NoError(t, err)

	s, err := newWithClient(ctx, client, "rum-outcomes")
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, crawler.Outcome{
		RunID:  "run-9",
		URL:    "http://a.example",
		Status: crawler.StatusLoaded,
		Findings: []crawler.Finding{
			{Library: "lux", State: crawler.FindingPresent, Version: "314"},
		},
	}))
	require.NoError(t, s.Close(ctx))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "run-9", msgs[0].Attributes["run_id"])
	require.Equal(t, "loaded", msgs[0].Attributes["status"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	require.Equal(t, "http://a.example", body["url"])
	require.Len(t, body["findings"], 1)
}

func TestSink_MissingTopic(t *testing.T) {
	t.Parallel()

	_, client := newFakeClient(t)
	defer client.Close()

	_, err := newWithClient(context.Background(), client, "nope")
	require.ErrorContains(t, err, "does not exist")
}

func TestNew_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
}
