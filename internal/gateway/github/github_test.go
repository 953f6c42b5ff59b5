package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/teleporter/pkg/errors"
	"github.com/agentstation/teleporter/pkg/gateway"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithBaseURL(server.URL)}, opts...)
	client, err := New("acme/templates", "test-token", opts...)
	require.NoError(t, err)
	return client
}

func contentResponse(t *testing.T, w http.ResponseWriter, content []byte) {
	t.Helper()
	writeJSON(t, w, http.StatusOK, map[string]string{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestNewValidation(t *testing.T) {
	_, err := New("not-a-repo", "token")
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	_, err = New("acme/templates", "")
	require.Error(t, err)
	assert.True(t, errors.IsAuthFailed(err))
}

func TestMasterContent(t *testing.T) {
	var gotPath, gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		contentResponse(t, w, []byte("pipeline v1"))
	}))

	content, err := client.MasterContent(context.Background(), "ci", "workflows/test.yml")
	require.NoError(t, err)
	assert.Equal(t, []byte("pipeline v1"), content)
	assert.Equal(t, "/repos/acme/templates/contents/templates/ci/workflows/test.yml", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestMasterContentNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.MasterContent(context.Background(), "ci", "missing.yml")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTemplateNotFound)
}

func TestTargetContent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/acme/service/contents/ci.yml" {
			contentResponse(t, w, []byte("deployed"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	content, exists, err := client.TargetContent(context.Background(), "acme/service", "ci.yml")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, []byte("deployed"), content)

	_, exists, err = client.TargetContent(context.Background(), "acme/service", "absent.yml")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAuthFailureMapping(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, _, err := client.TargetContent(context.Background(), "acme/service", "ci.yml")
	require.Error(t, err)
	assert.True(t, errors.IsAuthFailed(err))
}

func TestRateLimitMapping(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, _, err := client.TargetContent(context.Background(), "acme/service", "ci.yml")
	require.Error(t, err)
	assert.True(t, errors.IsRateLimited(err))
	assert.True(t, errors.IsTransient(err))
}

func TestSubmitUpdateRepoNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.SubmitUpdate(context.Background(), "acme/gone", []gateway.Change{
		{Path: "ci.yml", Content: []byte("x")},
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestSubmitUpdateRequiresChanges(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.SubmitUpdate(context.Background(), "acme/service", nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestSubmitUpdateFlow(t *testing.T) {
	var (
		blobCount int
		treeBody  map[string]any
		refBody   map[string]string
		prBody    map[string]string
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/service", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]string{"default_branch": "main"})
	})
	mux.HandleFunc("GET /repos/acme/service/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"object": map[string]string{"sha": "base-sha"}})
	})
	mux.HandleFunc("GET /repos/acme/service/git/commits/base-sha", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"sha":  "base-sha",
			"tree": map[string]string{"sha": "base-tree"},
		})
	})
	mux.HandleFunc("POST /repos/acme/service/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		blobCount++
		writeJSON(t, w, http.StatusCreated, map[string]string{"sha": fmt.Sprintf("blob-%d", blobCount)})
	})
	mux.HandleFunc("POST /repos/acme/service/git/trees", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&treeBody))
		writeJSON(t, w, http.StatusCreated, map[string]string{"sha": "new-tree"})
	})
	mux.HandleFunc("POST /repos/acme/service/git/commits", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusCreated, map[string]string{"sha": "new-commit"})
	})
	mux.HandleFunc("POST /repos/acme/service/git/refs", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&refBody))
		writeJSON(t, w, http.StatusCreated, map[string]string{"ref": refBody["ref"]})
	})
	mux.HandleFunc("POST /repos/acme/service/pulls", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&prBody))
		writeJSON(t, w, http.StatusCreated, map[string]any{
			"number":   7,
			"html_url": "https://github.com/acme/service/pull/7",
		})
	})

	fixed := utc.Time{Time: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	client := newTestClient(t, mux, WithClock(func() utc.Time { return fixed }))

	result, err := client.SubmitUpdate(context.Background(), "acme/service", []gateway.Change{
		{Path: ".github/workflows/ci.yml", Content: []byte("pipeline v2")},
		{Path: ".github/workflows/lint.yml", Content: []byte("lint v2")},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/acme/service/pull/7", result.Reference)
	assert.Equal(t, []string{".github/workflows/ci.yml", ".github/workflows/lint.yml"}, result.AppliedPaths)

	assert.Equal(t, 2, blobCount)
	assert.Equal(t, "base-tree", treeBody["base_tree"])
	assert.Equal(t, "refs/heads/teleporter/update-20250601120000", refBody["ref"])
	assert.Equal(t, "new-commit", refBody["sha"])
	assert.Equal(t, "main", prBody["base"])
	assert.Equal(t, "teleporter/update-20250601120000", prBody["head"])
}
