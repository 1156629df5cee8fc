package view_test

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-resource-query/querycache"
	"github.com/goliatone/go-resource-query/resource"
	"github.com/goliatone/go-resource-query/view"
)

type lead struct {
	ID   string
	Name string
}

type listSub struct {
	in       resource.ListInput
	listener func(querycache.Snapshot[resource.Page[lead]])
	active   bool
}

// fakeSource records subscriptions and lets tests push snapshots to them.
type fakeSource struct {
	mu        sync.Mutex
	lists     []*listSub
	details   map[string][]func(querycache.Snapshot[lead])
	closed    map[string]int
	refetched []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{details: map[string][]func(querycache.Snapshot[lead]){}, closed: map[string]int{}}
}

func (f *fakeSource) SubscribeList(in resource.ListInput, listener func(querycache.Snapshot[resource.Page[lead]])) func() {
	sub := &listSub{in: in, listener: listener, active: true}
	f.mu.Lock()
	f.lists = append(f.lists, sub)
	f.mu.Unlock()

	listener(querycache.Snapshot[resource.Page[lead]]{Status: querycache.StatusLoading, IsFetching: true})
	return func() {
		f.mu.Lock()
		sub.active = false
		f.mu.Unlock()
	}
}

func (f *fakeSource) RefetchList(in resource.ListInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refetched = append(f.refetched, resource.ListKey("leads", in).String())
}

func (f *fakeSource) SubscribeDetail(id string, listener func(querycache.Snapshot[lead])) func() {
	f.mu.Lock()
	f.details[id] = append(f.details[id], listener)
	f.mu.Unlock()

	if id == "" {
		listener(querycache.Snapshot[lead]{Status: querycache.StatusIdle})
	} else {
		listener(querycache.Snapshot[lead]{Status: querycache.StatusLoading, IsFetching: true})
	}
	return func() {
		f.mu.Lock()
		f.closed[id]++
		f.mu.Unlock()
	}
}

func (f *fakeSource) RefetchDetail(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refetched = append(f.refetched, "detail:"+id)
}

func (f *fakeSource) list(i int) *listSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists[i]
}

func (f *fakeSource) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lists)
}

func (f *fakeSource) activeLists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.lists {
		if s.active {
			n++
		}
	}
	return n
}

func (f *fakeSource) pushDetail(id string, i int, s querycache.Snapshot[lead]) {
	f.mu.Lock()
	listener := f.details[id][i]
	f.mu.Unlock()
	listener(s)
}

func loaded(total int, items ...lead) querycache.Snapshot[resource.Page[lead]] {
	return querycache.Snapshot[resource.Page[lead]]{
		Status:     querycache.StatusSuccess,
		Data:       resource.Page[lead]{Items: items, TotalCount: total},
		TotalCount: total,
		HasData:    true,
	}
}

func TestList_RenderStates(t *testing.T) {
	src := newFakeSource()
	var states []view.Kind
	l := view.NewList[lead](src, view.WithListChange[lead](func(s view.State) {
		states = append(states, s.Kind)
	}))
	defer l.Close()

	assert.Equal(t, view.KindLoading, l.Render().Kind)

	src.list(0).listener(loaded(0))
	st := l.Render()
	assert.Equal(t, view.KindEmpty, st.Kind, "an empty result is not an error")
	assert.NoError(t, st.Err)

	src.list(0).listener(loaded(1, lead{ID: "1", Name: "Acme"}))
	assert.Equal(t, view.KindLoaded, l.Render().Kind)
	assert.Equal(t, []lead{{ID: "1", Name: "Acme"}}, l.Items())
	assert.Equal(t, 1, l.TotalCount())

	refreshing := loaded(1, lead{ID: "1", Name: "Acme"})
	refreshing.Status = querycache.StatusLoading
	refreshing.IsFetching = true
	src.list(0).listener(refreshing)
	st = l.Render()
	assert.Equal(t, view.KindLoaded, st.Kind)
	assert.True(t, st.Refreshing)

	assert.Equal(t, []view.Kind{view.KindLoading, view.KindEmpty, view.KindLoaded, view.KindLoaded}, states)
}

func TestList_ErrorState(t *testing.T) {
	src := newFakeSource()
	l := view.NewList[lead](src)
	defer l.Close()

	err := &resource.ClientError{
		Status: http.StatusForbidden,
		Remote: &resource.RemoteError{Message: "You are not allowed to list leads."},
	}
	src.list(0).listener(querycache.Snapshot[resource.Page[lead]]{Status: querycache.StatusError, Err: err})

	st := l.Render()
	assert.Equal(t, view.KindError, st.Kind)
	assert.True(t, errors.Is(st.Err, err))
	assert.Equal(t, "You are not allowed to list leads.", st.Message)
}

func TestList_Pagination(t *testing.T) {
	src := newFakeSource()
	l := view.NewList[lead](src, view.WithPageSize[lead](2))
	defer l.Close()

	require.Equal(t, 1, src.listCount())
	assert.Equal(t, resource.ListInput{SkipCount: 0, MaxResultCount: 2}, src.list(0).in)

	src.list(0).listener(loaded(5, lead{ID: "1"}, lead{ID: "2"}))
	assert.Equal(t, 3, l.PageCount())
	assert.False(t, l.PrevPage())

	require.True(t, l.NextPage())
	assert.Equal(t, 1, l.Page())
	require.Equal(t, 2, src.listCount())
	assert.Equal(t, 2, src.list(1).in.SkipCount)
	assert.Equal(t, 1, src.activeLists(), "previous page unsubscribed")
	assert.Equal(t, view.KindLoading, l.Render().Kind)

	src.list(1).listener(loaded(5, lead{ID: "3"}, lead{ID: "4"}))
	require.True(t, l.NextPage())
	src.list(2).listener(loaded(5, lead{ID: "5"}))
	assert.Equal(t, 2, l.Page())
	assert.False(t, l.NextPage(), "last page")

	l.SetPage(2)
	assert.Equal(t, 3, src.listCount(), "same key does not resubscribe")

	l.SetPage(-4)
	assert.Equal(t, 0, l.Page())

	l.SetPageSize(0)
	assert.Equal(t, resource.DefaultMaxResultCount, l.Input().MaxResultCount)
}

func TestList_SetFilterResetsPage(t *testing.T) {
	src := newFakeSource()
	l := view.NewList[lead](src, view.WithPageSize[lead](2))
	defer l.Close()

	src.list(0).listener(loaded(6, lead{ID: "1"}, lead{ID: "2"}))
	l.SetPage(2)

	filter := map[string]string{"filter": "acme"}
	l.SetFilter(filter)
	filter["filter"] = "mutated"

	in := l.Input()
	assert.Equal(t, 0, in.SkipCount)
	assert.Equal(t, map[string]string{"filter": "acme"}, in.Filter)
	assert.Equal(t, "acme", src.list(src.listCount()-1).in.Filter["filter"])
}

func TestList_IgnoresReplacedSubscription(t *testing.T) {
	src := newFakeSource()
	l := view.NewList[lead](src, view.WithPageSize[lead](1))

	src.list(0).listener(loaded(3, lead{ID: "1"}))
	require.True(t, l.NextPage())

	// late result for page 0
	src.list(0).listener(loaded(3, lead{ID: "stale"}))
	assert.Equal(t, view.KindLoading, l.Render().Kind)
	assert.Empty(t, l.Items())

	l.Close()
	src.list(1).listener(loaded(3, lead{ID: "2"}))
	assert.Equal(t, view.KindLoading, l.Render().Kind, "closed view never changes")
	assert.Equal(t, 0, src.activeLists())

	l.SetPage(2)
	assert.Equal(t, 2, src.listCount(), "closed view does not resubscribe")
}

func TestList_Callbacks(t *testing.T) {
	src := newFakeSource()
	var edited []lead
	created := 0
	l := view.NewList[lead](src,
		view.WithOnEdit[lead](func(r lead) { edited = append(edited, r) }),
		view.WithOnCreate[lead](func() { created++ }),
	)
	defer l.Close()

	l.Edit(lead{ID: "7"})
	l.Create()
	l.Refetch()

	assert.Equal(t, []lead{{ID: "7"}}, edited)
	assert.Equal(t, 1, created)
	assert.Equal(t, []string{resource.ListKey("leads", resource.ListInput{}).String()}, src.refetched)

	bare := view.NewList[lead](src)
	defer bare.Close()
	bare.Edit(lead{ID: "x"})
	bare.Create()
}

func TestDetail_EmptyIDIsIdle(t *testing.T) {
	src := newFakeSource()
	d := view.NewDetail[lead](src, "")
	defer d.Close()

	assert.Equal(t, view.KindIdle, d.Render().Kind)
	_, ok := d.Record()
	assert.False(t, ok)

	d.Refetch()
	assert.Empty(t, src.refetched)
}

func TestDetail_SetID(t *testing.T) {
	src := newFakeSource()
	var states []view.Kind
	d := view.NewDetail[lead](src, "1", view.WithDetailChange[lead](func(s view.State) {
		states = append(states, s.Kind)
	}))
	defer d.Close()

	src.pushDetail("1", 0, querycache.Snapshot[lead]{Status: querycache.StatusSuccess, Data: lead{ID: "1", Name: "Acme"}, HasData: true})
	rec, ok := d.Record()
	require.True(t, ok)
	assert.Equal(t, "Acme", rec.Name)

	d.SetID("1")
	assert.Len(t, src.details["1"], 1, "same id keeps the subscription")

	d.SetID("2")
	assert.Equal(t, "2", d.ID())
	assert.Equal(t, 1, src.closed["1"])
	assert.Equal(t, view.KindLoading, d.Render().Kind)

	src.pushDetail("1", 0, querycache.Snapshot[lead]{Status: querycache.StatusSuccess, Data: lead{ID: "1", Name: "late"}, HasData: true})
	_, ok = d.Record()
	assert.False(t, ok, "late result of the previous id is dropped")

	d.Refetch()
	assert.Equal(t, []string{"detail:2"}, src.refetched)
	assert.Equal(t, []view.Kind{view.KindLoading, view.KindLoaded, view.KindLoading}, states)
}

func TestKind_String(t *testing.T) {
	tests := map[view.Kind]string{
		view.KindIdle:    "idle",
		view.KindLoading: "loading",
		view.KindEmpty:   "empty",
		view.KindError:   "error",
		view.KindLoaded:  "loaded",
		view.Kind(42):    "unknown",
	}
	for kind, want := range tests {
		assert.Equal(t, want, kind.String())
	}
}

func TestList_CloseWaitsForRunningCallback(t *testing.T) {
	src := newFakeSource()
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	l := view.NewList[lead](src, view.WithListChange[lead](func(s view.State) {
		calls.Add(1)
		if s.Kind == view.KindLoaded {
			close(entered)
			<-release
		}
	}))
	require.Equal(t, int32(1), calls.Load(), "initial loading state")

	go src.list(0).listener(loaded(1, lead{ID: "1"}))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}

	closed := make(chan struct{})
	go func() {
		l.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while the callback was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the callback finished")
	}

	src.list(0).listener(loaded(2, lead{ID: "1"}, lead{ID: "2"}))
	assert.Equal(t, int32(2), calls.Load(), "no callback after Close")
}

func TestList_CallbackCanChangePage(t *testing.T) {
	src := newFakeSource()
	var kinds []view.Kind
	var l *view.List[lead]

	l = view.NewList[lead](src, view.WithPageSize[lead](1), view.WithListChange[lead](func(s view.State) {
		kinds = append(kinds, s.Kind)
		if s.Kind == view.KindLoaded && l.Page() == 0 {
			l.NextPage()
		}
	}))
	defer l.Close()

	src.list(0).listener(loaded(2, lead{ID: "1"}))

	assert.Equal(t, 2, src.listCount())
	assert.Equal(t, 1, l.Page())
	assert.Equal(t, []view.Kind{view.KindLoading, view.KindLoaded, view.KindLoading}, kinds)
}
