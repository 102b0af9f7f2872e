// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/driftlabs/driftfs/pkg/types"

	"github.com/stretchr/testify/assert"
)

func TestReplicaBlacklistTwoStrikes(t *testing.T) {
	t.Parallel()

	b := newReplicaBlacklist(2)
	assert.False(t, b.banned("w1"))

	b.record("w1")
	assert.False(t, b.banned("w1"), "one failure is not enough")

	b.record("w1")
	assert.True(t, b.banned("w1"))
	assert.False(t, b.banned("w2"))
}

func TestIsRetriableFailsFastOnSemanticErrors(t *testing.T) {
	t.Parallel()

	assert.False(t, isRetriable(types.ErrPathConflict))
	assert.False(t, isRetriable(types.ErrSessionExpired))
	assert.False(t, isRetriable(types.ErrNotFound))
	assert.False(t, isRetriable(types.ErrNoCapacity))

	assert.True(t, isRetriable(types.ErrUnreachable))
	assert.True(t, isRetriable(types.ErrCorrupted))
	assert.True(t, isRetriable(assert.AnError))
}

func fakeResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestAPIErrorMapsKinds(t *testing.T) {
	t.Parallel()

	err := apiError(fakeResponse(409, `{"error":"path /a exists","kind":"path-conflict"}`))
	assert.ErrorIs(t, err, types.ErrPathConflict)
	assert.Contains(t, err.Error(), "path /a exists")

	err = apiError(fakeResponse(400, `{"error":"too late","kind":"session-expired"}`))
	assert.ErrorIs(t, err, types.ErrSessionExpired)

	err = apiError(fakeResponse(503, `{"error":"2 active workers","kind":"no-capacity"}`))
	assert.ErrorIs(t, err, types.ErrNoCapacity)

	// Status-based fallback for payloads without a kind tag.
	err = apiError(fakeResponse(404, `missing`))
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Unknown errors carry the status through.
	err = apiError(fakeResponse(500, `{"error":"boom"}`))
	assert.Contains(t, err.Error(), "500")
}
