package di

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-resource-query/pkg/testsupport"
	"github.com/goliatone/go-resource-query/resource"
)

// TestConcurrentReadWrite tests concurrent reads and writes of one resource
func TestConcurrentReadWrite(t *testing.T) {
	backend, _, leads := setupLeads(t, 10)

	ctx := context.Background()
	const numReaders = 10
	const numWriters = 5
	const operationsPerWorker = 10

	var wg sync.WaitGroup
	errs := make(chan error, (numReaders+numWriters)*operationsPerWorker)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			for j := 0; j < operationsPerWorker; j++ {
				if _, err := leads.List(ctx, resource.ListInput{}); err != nil {
					errs <- fmt.Errorf("reader %d operation %d failed: %v", readerID, j, err)
				}
				time.Sleep(time.Millisecond) // Small delay to increase contention
			}
		}(i)
	}

	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func(writerID int) {
			defer wg.Done()

			for j := 0; j < operationsPerWorker; j++ {
				_, err := leads.Create(ctx, Lead{Name: fmt.Sprintf("Writer %d Lead %d", writerID, j)})
				if err != nil {
					errs <- fmt.Errorf("writer %d operation %d failed: %v", writerID, j, err)
				}
				time.Sleep(2 * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	var errorCount int
	for err := range errs {
		t.Error(err)
		errorCount++
		if errorCount > 5 {
			t.Error("... and more errors")
			break
		}
	}

	// After the last write a read must see every record
	page, err := leads.List(ctx, resource.ListInput{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	want := 10 + numWriters*operationsPerWorker
	if page.TotalCount != want || backend.Len("leads") != want {
		t.Errorf("Expected %d leads after writes, got %d (backend %d)", want, page.TotalCount, backend.Len("leads"))
	}
}

// TestStaleTimeIntegration verifies that results older than the stale time
// are fetched again
func TestStaleTimeIntegration(t *testing.T) {
	backend := testsupport.StartFakeBackend(t)
	if _, err := backend.Seed("leads", Lead{ID: "lead-1", Name: "Original"}); err != nil {
		t.Fatalf("Seed() failed: %v", err)
	}

	config := testConfig(backend.URL())
	config.QueryCache.StaleTime = 50 * time.Millisecond

	container, err := NewContainer(config)
	if err != nil {
		t.Fatalf("Failed to create DI container: %v", err)
	}
	defer container.Close()

	leads, err := NewResource(container, resource.MustDescriptor[Lead]("leads"))
	if err != nil {
		t.Fatalf("NewResource() failed: %v", err)
	}

	ctx := context.Background()
	if _, err := leads.Get(ctx, "lead-1"); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	// Changed behind the cache's back
	if _, err := backend.Seed("leads", Lead{ID: "lead-1", Name: "Updated"}); err != nil {
		t.Fatalf("Seed() failed: %v", err)
	}

	lead, err := leads.Get(ctx, "lead-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if lead.Name != "Original" {
		t.Errorf("Expected cached value within stale time, got %q", lead.Name)
	}

	time.Sleep(80 * time.Millisecond)

	lead, err = leads.Get(ctx, "lead-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if lead.Name != "Updated" {
		t.Errorf("Expected refetched value after stale time, got %q", lead.Name)
	}
	if n := backend.Requests(http.MethodGet, "/api/app/leads/lead-1"); n != 2 {
		t.Errorf("Expected 2 detail requests, got %d", n)
	}
}

func BenchmarkStoreKeyGeneration(b *testing.B) {
	backend := testsupport.StartFakeBackend(b)
	container, err := NewContainer(testConfig(backend.URL()))
	if err != nil {
		b.Fatalf("Failed to create DI container: %v", err)
	}
	defer container.Close()

	qc := container.Cache()

	benchmarks := []struct {
		name string
		key  resource.Key
	}{
		{"Detail", resource.DetailKey("leads", "lead-1")},
		{"FirstPage", resource.ListKey("leads", resource.ListInput{})},
		{"Filtered", resource.ListKey("leads", resource.ListInput{
			Filter:         map[string]string{"filter": "acme", "status": "open", "ownerId": "42"},
			SkipCount:      40,
			MaxResultCount: 20,
		})},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = qc.StoreKey(bm.key)
			}
		})
	}
}

func BenchmarkCachedVsClient(b *testing.B) {
	_, container, leads := setupLeads(b, 50)

	ctx := context.Background()
	desc := leads.Descriptor()

	b.Run("Client", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := resource.Get(ctx, container.Client(), desc, fmt.Sprintf("lead-%d", i%50)); err != nil {
				b.Fatalf("Get() failed: %v", err)
			}
		}
	})

	b.Run("Cached", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := leads.Get(ctx, fmt.Sprintf("lead-%d", i%50)); err != nil {
				b.Fatalf("Get() failed: %v", err)
			}
		}
	})
}

func BenchmarkConcurrentCacheAccess(b *testing.B) {
	_, _, leads := setupLeads(b, 100)
	ctx := context.Background()

	// Warm the cache
	for i := 0; i < 100; i++ {
		if _, err := leads.Get(ctx, fmt.Sprintf("lead-%d", i)); err != nil {
			b.Fatalf("Get() failed: %v", err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := leads.Get(ctx, fmt.Sprintf("lead-%d", i%100)); err != nil {
				b.Errorf("Get() failed: %v", err)
				return
			}
			i++
		}
	})
}
