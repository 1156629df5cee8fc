package mutation_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-resource-query/mutation"
	"github.com/goliatone/go-resource-query/pkg/testsupport"
	"github.com/goliatone/go-resource-query/querycache"
	"github.com/goliatone/go-resource-query/resource"
)

type lead struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

var leads = resource.MustDescriptor[lead]("leads")

type recordingInvalidator struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingInvalidator) InvalidateResource(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recordingInvalidator) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func setup(t *testing.T, opts ...mutation.Option) (*testsupport.FakeBackend, *resource.Client, *recordingInvalidator, *mutation.Executor) {
	t.Helper()
	backend := testsupport.StartFakeBackend(t)

	cfg := resource.DefaultConfig()
	cfg.BaseURL = backend.URL()
	client, err := resource.NewClient(cfg)
	require.NoError(t, err)

	inv := &recordingInvalidator{}
	return backend, client, inv, mutation.New(client, inv, opts...)
}

func TestMutate_SuccessInvalidatesResource(t *testing.T) {
	var outcomes []mutation.Outcome
	backend, _, inv, exec := setup(t, mutation.WithOnSettled(func(_ context.Context, o mutation.Outcome) {
		outcomes = append(outcomes, o)
	}))
	ctx := context.Background()

	created, err := mutation.Create(ctx, exec, leads, lead{Name: "Acme"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	_, err = mutation.Update(ctx, exec, leads, created.ID, lead{Name: "Acme Ltd"})
	require.NoError(t, err)

	require.NoError(t, mutation.Delete(ctx, exec, leads, created.ID))

	assert.Equal(t, []string{"leads", "leads", "leads"}, inv.calls())
	assert.Equal(t, 0, backend.Len("leads"))

	require.Len(t, outcomes, 3)
	assert.Equal(t, mutation.KindCreate, outcomes[0].Kind)
	assert.Equal(t, created.ID, outcomes[0].ID, "create outcome carries the server id")
	assert.Equal(t, []string{"leads"}, outcomes[0].Invalidated)
	assert.Equal(t, mutation.KindDelete, outcomes[2].Kind)
	for _, o := range outcomes {
		assert.NoError(t, o.Err)
	}
}

func TestMutate_UpdateNotFound(t *testing.T) {
	var outcomes []mutation.Outcome
	backend, _, inv, exec := setup(t, mutation.WithOnSettled(func(_ context.Context, o mutation.Outcome) {
		outcomes = append(outcomes, o)
	}))

	_, err := mutation.Update(context.Background(), exec, leads, "missing", lead{Name: "x"})

	var clientErr *resource.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, http.StatusNotFound, clientErr.Status)
	assert.Empty(t, inv.calls(), "failed writes do not invalidate")
	assert.Equal(t, 1, backend.Requests(http.MethodPut, "/api/app/leads/missing"), "failed writes are not retried")

	require.Len(t, outcomes, 1)
	assert.Same(t, err, outcomes[0].Err)
	assert.Nil(t, outcomes[0].Invalidated)
}

func TestMutate_ServerErrorIsNotRetried(t *testing.T) {
	backend, _, inv, exec := setup(t)
	backend.FailNext(http.MethodPost, "/api/app/leads", testsupport.Failure{Status: http.StatusServiceUnavailable})

	_, err := mutation.Create(context.Background(), exec, leads, lead{Name: "x"})

	var serverErr *resource.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, 1, backend.Requests(http.MethodPost, "/api/app/leads"))
	assert.Empty(t, inv.calls())
	assert.Equal(t, 0, backend.Len("leads"))
}

func TestMutate_WithInvalidates(t *testing.T) {
	_, _, inv, exec := setup(t)

	ctx := mutation.WithInvalidates(context.Background(), "campaigns", " ", "leads")
	ctx = mutation.WithInvalidates(ctx, "campaigns", "contacts")

	_, err := mutation.Create(ctx, exec, leads, lead{Name: "x"})
	require.NoError(t, err)

	assert.Equal(t, []string{"leads", "campaigns", "contacts"}, inv.calls())
}

func TestMutate_InvalidOp(t *testing.T) {
	backend, _, inv, exec := setup(t)

	_, err := mutation.Mutate(context.Background(), exec, leads, mutation.Op{Kind: "archive"})
	assert.Error(t, err)

	err = mutation.Delete(context.Background(), exec, leads, "")
	assert.ErrorIs(t, err, resource.ErrEmptyID)

	assert.Empty(t, inv.calls())
	assert.Equal(t, 0, backend.Requests(http.MethodDelete, "/api/app/leads"))
}

func TestMutate_NilInvalidator(t *testing.T) {
	backend := testsupport.StartFakeBackend(t)
	cfg := resource.DefaultConfig()
	cfg.BaseURL = backend.URL()
	client, err := resource.NewClient(cfg)
	require.NoError(t, err)

	exec := mutation.New(client, nil)
	_, err = mutation.Create(context.Background(), exec, leads, lead{Name: "x"})
	require.NoError(t, err)
	assert.Same(t, client, exec.Client())
}

func TestMutate_CreateThenListIncludesServerID(t *testing.T) {
	backend := testsupport.StartFakeBackend(t)
	cfg := resource.DefaultConfig()
	cfg.BaseURL = backend.URL()
	client, err := resource.NewClient(cfg)
	require.NoError(t, err)

	qc, err := querycache.New(querycache.DefaultConfig())
	require.NoError(t, err)
	defer qc.Close()

	exec := mutation.New(client, qc)
	ctx := context.Background()
	key := resource.ListKey(leads.Name, resource.ListInput{})
	fetch := func(ctx context.Context) (resource.Page[lead], error) {
		return resource.List(ctx, client, leads, key.Input())
	}

	page, err := querycache.Fetch(ctx, qc, key, fetch)
	require.NoError(t, err)
	assert.True(t, page.Empty())

	created, err := mutation.Create(ctx, exec, leads, lead{Name: "New lead"})
	require.NoError(t, err)

	assert.True(t, querycache.Peek[resource.Page[lead]](qc, key).IsStale)

	page, err = querycache.Fetch(ctx, qc, key, fetch)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, created.ID, page.Items[0].ID)
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, 2, backend.Requests(http.MethodGet, "/api/app/leads"))
}

func TestMutate_SubscribersSeeFreshDataAfterWrite(t *testing.T) {
	backend := testsupport.StartFakeBackend(t)
	cfg := resource.DefaultConfig()
	cfg.BaseURL = backend.URL()
	client, err := resource.NewClient(cfg)
	require.NoError(t, err)

	qc, err := querycache.New(querycache.DefaultConfig())
	require.NoError(t, err)
	defer qc.Close()

	key := resource.ListKey(leads.Name, resource.ListInput{})
	fetch := func(ctx context.Context) (resource.Page[lead], error) {
		return resource.List(ctx, client, leads, key.Input())
	}

	var mu sync.Mutex
	var latest querycache.Snapshot[resource.Page[lead]]
	unsubscribe := querycache.Subscribe(qc, key, fetch, func(s querycache.Snapshot[resource.Page[lead]]) {
		mu.Lock()
		latest = s
		mu.Unlock()
	})
	defer unsubscribe()

	total := func() int {
		mu.Lock()
		defer mu.Unlock()
		if latest.Status != querycache.StatusSuccess {
			return -1
		}
		return latest.TotalCount
	}
	require.Eventually(t, func() bool { return total() == 0 }, 2*time.Second, 5*time.Millisecond)

	_, err = mutation.Create(context.Background(), mutation.New(client, qc), leads, lead{Name: "x"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return total() == 1 }, 2*time.Second, 5*time.Millisecond)
}
