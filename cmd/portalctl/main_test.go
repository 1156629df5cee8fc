package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-resource-query/pkg/testsupport"
	"github.com/goliatone/go-resource-query/resource"
	"github.com/goliatone/go-resource-query/view"
)

var portalEnv = []string{
	"PORTAL_BASE_URL", "PORTAL_TIMEOUT", "PORTAL_CULTURE", "PORTAL_CLIENT_ID",
	"PORTAL_TOKEN_PATH", "PORTAL_STALE_TIME", "PORTAL_RETRY", "PORTAL_LOG_LEVEL",
	"PORTAL_LOG_PRETTY", "PORTAL_ACCESS_TOKEN", "PORTAL_REFRESH_TOKEN", "PORTAL_TENANT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range portalEnv {
		// Setenv registers the restore; the variable must then be absent
		// for godotenv to fill it
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func startBackend(t *testing.T) *testsupport.FakeBackend {
	t.Helper()
	clearEnv(t)
	backend := testsupport.StartFakeBackend(t)
	testsupport.SeedFixture(t, backend, "leads", testsupport.FixturePath("leads.json"))
	return backend
}

func run(t *testing.T, backend *testsupport.FakeBackend, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--base-url", backend.URL(), "--env-file", "testdata/missing.env"}, args...))

	err := cmd.Execute()
	return stdout.String(), err
}

func TestCommands_Golden(t *testing.T) {
	backend := startBackend(t)

	tests := []struct {
		name   string
		args   []string
		golden string
	}{
		{name: "list page", args: []string{"list", "leads", "--max", "2"}, golden: "list_leads.json"},
		{name: "list filtered", args: []string{"list", "leads", "-f", "status=open"}, golden: "list_leads_open.json"},
		{name: "get", args: []string{"get", "leads", "lead-3"}, golden: "get_lead.json"},
		{name: "watch", args: []string{"watch", "leads", "--max", "3", "--count", "1"}, golden: "watch_leads.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, backend, tt.args...)
			require.NoError(t, err)
			testsupport.CompareWithGolden(t, testsupport.GoldenPath(tt.golden), []byte(out))
		})
	}
}

func TestCommands_Writes(t *testing.T) {
	backend := startBackend(t)

	out, err := run(t, backend, "create", "leads", "--data", `{"name":"Delta Roofing","status":"open"}`)
	require.NoError(t, err)

	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "Delta Roofing", created["name"])
	assert.Equal(t, 5, backend.Len("leads"))

	payload := filepath.Join(t.TempDir(), "update.json")
	require.NoError(t, os.WriteFile(payload, []byte(`{"status":"won"}`), 0o644))

	out, err = run(t, backend, "update", "leads", id, "--file", payload)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "won"`)

	out, err = run(t, backend, "delete", "leads", id)
	require.NoError(t, err)
	assert.Equal(t, "deleted leads "+id+"\n", out)
	assert.Equal(t, 4, backend.Len("leads"))

	assert.Equal(t, 3, backend.Requests(http.MethodGet, "/api/abp/application-configuration"),
		"each invocation primes the anti-forgery cookie once")
}

func TestCommands_Errors(t *testing.T) {
	backend := startBackend(t)

	_, err := run(t, backend, "get", "leads", "missing")
	var clientErr *resource.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, http.StatusNotFound, clientErr.Status)

	_, err = run(t, backend, "create", "leads", "--data", `[1,2]`)
	assert.ErrorContains(t, err, "not a JSON object")

	_, err = run(t, backend, "list", "leads", "-f", "status")
	assert.ErrorContains(t, err, "want name=value")

	_, err = run(t, backend, "list", "Bad Name")
	assert.Error(t, err)

	_, err = run(t, backend, "get", "leads")
	assert.Error(t, err, "missing id argument")
}

func TestLoadSettings(t *testing.T) {
	clearEnv(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	content := strings.Join([]string{
		"PORTAL_BASE_URL=https://portal.example.com",
		"PORTAL_TIMEOUT=5s",
		"PORTAL_CULTURE=es",
		"PORTAL_STALE_TIME=2m",
		"PORTAL_RETRY=3",
		"PORTAL_TENANT=tenant-a",
		"PORTAL_LOG_PRETTY=false",
	}, "\n")
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	// variables already set win over the file
	t.Setenv("PORTAL_CULTURE", "fr")

	s, err := loadSettings(envFile)
	require.NoError(t, err)

	assert.Equal(t, "https://portal.example.com", s.Container.Resource.BaseURL)
	assert.Equal(t, 5*time.Second, s.Container.Resource.Timeout)
	assert.Equal(t, "fr", s.Container.Resource.Culture)
	assert.Equal(t, 2*time.Minute, s.Container.QueryCache.StaleTime)
	assert.Equal(t, 3, s.Container.QueryCache.Retry)
	assert.Equal(t, "tenant-a", s.Tenant)
	assert.False(t, s.Container.Logging.Pretty)
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := map[string]string{
		"PORTAL_TIMEOUT":    "soon",
		"PORTAL_STALE_TIME": "10",
		"PORTAL_RETRY":      "many",
		"PORTAL_LOG_PRETTY": "sometimes",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := loadSettings("")
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestLoadSettings_MissingEnvFile(t *testing.T) {
	clearEnv(t)

	s, err := loadSettings(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, resource.DefaultConfig().Culture, s.Container.Resource.Culture)
}

func TestStateQueue_KeepsErrorStates(t *testing.T) {
	q := newStateQueue()
	failed := view.State{Kind: view.KindError, Message: "backend unreachable"}

	q.push(view.State{Kind: view.KindLoading})
	q.push(view.State{Kind: view.KindLoaded})
	q.push(view.State{Kind: view.KindLoaded, Refreshing: true})
	q.push(view.State{Kind: view.KindEmpty})
	q.push(failed)
	q.push(failed)
	for i := 0; i < 20; i++ {
		q.push(view.State{Kind: view.KindLoaded})
	}

	select {
	case <-q.ready:
	default:
		t.Fatal("queue did not signal")
	}
	assert.Equal(t, []view.State{{Kind: view.KindEmpty}, failed, failed, {Kind: view.KindLoaded}}, q.drain())
	assert.Empty(t, q.drain())
}
