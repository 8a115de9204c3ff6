package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwarms_LaunchToken(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/token/launch", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{ "success": true, "token_address": "abc" }`))
	}))
	defer srv.Close()

	s := NewSwarms(SwarmsConfig{APIKey: "sk-test", PrivateKey: "pk", BaseURL: srv.URL + "/"})
	out, err := s.LaunchToken(context.Background(), LaunchTokenRequest{
		Name:        "Claw Agent",
		Description: "an agent",
		Ticker:      "claw",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"success":true,"token_address":"abc"}`, out)
	assert.Equal(t, "CLAW", got["ticker"])
	assert.Equal(t, "pk", got["private_key"])
	_, hasImage := got["image"]
	assert.False(t, hasImage)
}

func TestSwarms_Validation(t *testing.T) {
	s := NewSwarms(SwarmsConfig{APIKey: "k", PrivateKey: "pk", BaseURL: "http://127.0.0.1:1"})
	ctx := context.Background()

	_, err := s.LaunchToken(ctx, LaunchTokenRequest{Name: "x", Description: "d", Ticker: "T"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.LaunchToken(ctx, LaunchTokenRequest{Name: "ok", Description: "d", Ticker: "TOOLONGTICKER"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.ClaimFees(ctx, "short")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewSwarms(SwarmsConfig{PrivateKey: "pk"}).LaunchToken(ctx, LaunchTokenRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewSwarms(SwarmsConfig{APIKey: "k"}).ClaimFees(ctx, strings.Repeat("a", 40))
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSwarms_ClaimFeesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "pk", body["privateKey"])
		http.Error(w, "no fees", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSwarms(SwarmsConfig{PrivateKey: "pk", BaseURL: srv.URL})
	_, err := s.ClaimFees(context.Background(), strings.Repeat("a", 44))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "no fees")
}

func TestExa_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "exa-key", r.Header.Get("x-api-key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "go generics", body["query"])
		assert.EqualValues(t, 5, body["numResults"])
		_, _ = w.Write([]byte(`{"results":[{"title":"Generics","url":"https://go.dev/doc","text":"Type\nparameters"}]}`))
	}))
	defer srv.Close()

	e := NewExa(ExaConfig{APIKey: "exa-key", BaseURL: srv.URL})
	results, err := e.Search(context.Background(), "go generics")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://go.dev/doc", results[0].URL)
	assert.Equal(t, "1. Generics\n   https://go.dev/doc\n   Type parameters", FormatResults(results))
}

func TestExa_NotConfigured(t *testing.T) {
	_, err := NewExa(ExaConfig{}).Search(context.Background(), "q")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, "No results.", FormatResults(nil))
}

func TestDeveloper_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := filepath.Join(t.TempDir(), "sandbox")
	d := NewDeveloper(DeveloperConfig{
		Command:    []string{"sh", "-c", "pwd; echo task=$0", "{task}"},
		SandboxDir: dir,
	})
	require.True(t, d.Configured())

	out, err := d.Run(context.Background(), "build a site")
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(dir)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, []string{dir, resolved}, lines[0])
	assert.Equal(t, "task=build a site", lines[1])

	_, statErr := os.Stat(dir)
	assert.NoError(t, statErr)
}

func TestDeveloper_AppendsTaskWithoutPlaceholder(t *testing.T) {
	d := NewDeveloper(DeveloperConfig{Command: []string{"echo", "-n"}})
	assert.Equal(t, []string{"echo", "-n", "hello"}, d.args("hello"))
}

func TestDeveloper_FailureAndTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := t.TempDir()

	d := NewDeveloper(DeveloperConfig{Command: []string{"sh", "-c", "echo boom >&2; exit 3", "{task}"}, SandboxDir: dir})
	_, err := d.Run(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	d = NewDeveloper(DeveloperConfig{Command: []string{"sh", "-c", "exec sleep 5", "{task}"}, SandboxDir: dir, Timeout: 50 * time.Millisecond})
	_, err = d.Run(context.Background(), "ignored")
	assert.True(t, errors.Is(err, ErrDeveloperTimeout), "got %v", err)

	_, err = NewDeveloper(DeveloperConfig{}).Run(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
