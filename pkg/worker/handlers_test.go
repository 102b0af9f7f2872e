// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package worker_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/driftlabs/driftfs/pkg/types"
	"github.com/driftlabs/driftfs/pkg/utils"
	"github.com/driftlabs/driftfs/pkg/worker"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testWorker is a worker server on an httptest listener. Background
// loops are not started; handlers are exercised directly over HTTP.
type testWorker struct {
	srv *worker.Server
	ts  *httptest.Server
}

func startWorker(t *testing.T, nodeID string) *testWorker {
	t.Helper()

	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, _ := strconv.Atoi(u.Port())

	srv, err := worker.NewServer(types.WorkerConfig{
		NodeID:      nodeID,
		Host:        u.Hostname(),
		Port:        port,
		MetadataURL: "http://localhost:0", // heartbeats not exercised here
		StoragePath: t.TempDir(),
	}, mux)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Store().Close() })

	return &testWorker{srv: srv, ts: ts}
}

func putChunk(t *testing.T, w *testWorker, id uuid.UUID, payload []byte, query string) *types.ChunkPutResponse {
	t.Helper()

	req, err := http.NewRequest(http.MethodPut, w.ts.URL+"/chunks/"+id.String()+query, bytes.NewReader(payload))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var put types.ChunkPutResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&put))
	return &put
}

func TestChunkPutGetDeleteOverHTTP(t *testing.T) {
	t.Parallel()

	w := startWorker(t, "w1")
	id := uuid.New()
	payload := bytes.Repeat([]byte("wire"), 2048)

	put := putChunk(t, w, id, payload, "")
	assert.Equal(t, "stored", put.Status)
	assert.Equal(t, utils.Sha256Hex(payload), put.Checksum)
	assert.Equal(t, []string{"w1"}, put.Nodes)

	resp, err := http.Get(w.ts.URL + "/chunks/" + id.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, put.Checksum, resp.Header.Get("X-Checksum"))
	assert.Equal(t, fmt.Sprint(len(payload)), resp.Header.Get("Content-Length"))

	var got bytes.Buffer
	_, err = got.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got.Bytes())

	req, _ := http.NewRequest(http.MethodDelete, w.ts.URL+"/chunks/"+id.String(), nil)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)

	// Gone now.
	getResp, err := http.Get(w.ts.URL + "/chunks/" + id.String())
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestPutFansOutToPeers(t *testing.T) {
	t.Parallel()

	primary := startWorker(t, "w1")
	peerA := startWorker(t, "w2")
	peerB := startWorker(t, "w3")

	id := uuid.New()
	payload := []byte("replicate me")
	query := "?replicate_to=" + url.QueryEscape(peerA.ts.URL+"|"+peerB.ts.URL)

	put := putChunk(t, primary, id, payload, query)
	assert.ElementsMatch(t, []string{"w1", "w2", "w3"}, put.Nodes)

	for _, w := range []*testWorker{primary, peerA, peerB} {
		meta, ok := w.srv.Store().Lookup(id)
		require.True(t, ok, "chunk must exist on %s", w.srv.NodeID())
		assert.Equal(t, utils.Sha256Hex(payload), meta.Checksum)
	}
}

func TestPutToleratesDeadPeer(t *testing.T) {
	t.Parallel()

	primary := startWorker(t, "w1")
	id := uuid.New()
	payload := []byte("partial fan-out")

	// One unreachable peer: the call still succeeds with local ack only.
	query := "?replicate_to=" + url.QueryEscape("http://127.0.0.1:1/")
	put := putChunk(t, primary, id, payload, query)
	assert.Equal(t, []string{"w1"}, put.Nodes)

	_, ok := primary.srv.Store().Lookup(id)
	assert.True(t, ok)
}

func TestReplicateEndpoint(t *testing.T) {
	t.Parallel()

	source := startWorker(t, "w1")
	dest := startWorker(t, "w2")

	id := uuid.New()
	payload := []byte("pull replication")
	putChunk(t, source, id, payload, "")

	body, _ := json.Marshal(&types.ReplicateRequest{ChunkID: id, DestinationURL: dest.ts.URL})
	resp, err := http.Post(source.ts.URL+"/replicate", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rep types.ReplicateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.ElementsMatch(t, []string{"w1", "w2"}, rep.Nodes)

	meta, ok := dest.srv.Store().Lookup(id)
	require.True(t, ok)
	assert.Equal(t, utils.Sha256Hex(payload), meta.Checksum)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	w := startWorker(t, "w1")
	putChunk(t, w, uuid.New(), []byte("counted"), "")

	resp, err := http.Get(w.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health types.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "w1", health.Details["node_id"])
	assert.Equal(t, float64(1), health.Details["chunk_count"])
}
