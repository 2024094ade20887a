package commitlog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadEmpty(t *testing.T) {
	assert.True(t, (*Payload)(nil).Empty())
	assert.True(t, (&Payload{}).Empty())
	assert.False(t, (&Payload{Castings: []IndexEntry{{Index: "a"}}}).Empty())
}

func TestMemorySinkBuffersPerKeyspaceAndDrainsInOrder(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()

	p1 := &Payload{Castings: []IndexEntry{{Index: "a"}}}
	p2 := &Payload{Castings: []IndexEntry{{Index: "b"}}}
	require.NoError(t, sink.Publish(ctx, "ks1", p1))
	require.NoError(t, sink.Publish(ctx, "ks1", p2))
	require.NoError(t, sink.Publish(ctx, "ks2", &Payload{Resources: []IndexEntry{{Index: "c"}}}))

	got := sink.Drain("ks1")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Castings[0].Index)
	assert.Equal(t, "b", got[1].Castings[0].Index)

	assert.Empty(t, sink.Drain("ks1"), "drain must clear the buffer")

	ks2 := sink.Drain("ks2")
	require.Len(t, ks2, 1)
}

func TestMemorySinkSkipsEmptyPayload(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()
	require.NoError(t, sink.Publish(ctx, "ks1", &Payload{}))
	assert.Empty(t, sink.Drain("ks1"))
}

func TestHTTPSinkPostsJSONWithKeyspaceHeader(t *testing.T) {
	var gotBody Payload
	var gotKeyspace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKeyspace = r.Header.Get("X-Keyspace")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL)
	payload := &Payload{Castings: []IndexEntry{{Index: "fp1", ConceptIDs: []string{"c1", "c2"}}}}
	require.NoError(t, sink.Publish(context.Background(), "ks1", payload))

	assert.Equal(t, "ks1", gotKeyspace)
	require.Len(t, gotBody.Castings, 1)
	assert.Equal(t, "fp1", gotBody.Castings[0].Index)
}

func TestHTTPSinkSurfacesNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL)
	payload := &Payload{Castings: []IndexEntry{{Index: "fp1"}}}
	err := sink.Publish(context.Background(), "ks1", payload)
	require.Error(t, err)
}

func TestNewSinkSelectsMemoryForInMemoryOrEmpty(t *testing.T) {
	_, ok := NewSink("").(*MemorySink)
	assert.True(t, ok)
	_, ok = NewSink("IN_MEMORY").(*MemorySink)
	assert.True(t, ok)
	_, ok = NewSink("https://example.com/commits").(*HTTPSink)
	assert.True(t, ok)
}
