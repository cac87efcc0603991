// Package bench measures invocation cost under each compilation cache mode.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. -benchtime=100x ./bench/
package bench

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/caffeineduck/wasmfaas/executor"
	"github.com/caffeineduck/wasmfaas/internal/wasmtest"
	"github.com/caffeineduck/wasmfaas/loader"
	"github.com/caffeineduck/wasmfaas/sandbox"
)

func newExecutor(tb testing.TB, opts ...executor.ExecutorOption) *executor.Executor {
	tb.Helper()
	dir := wasmtest.Dir(tb, wasmtest.Standard())
	exec, err := executor.New(loader.New(dir), opts...)
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { exec.Close() })
	return exec
}

func benchmarkInvoke(b *testing.B, id string, params map[string]string, opts ...executor.ExecutorOption) {
	exec := newExecutor(b, opts...)
	ctx := context.Background()

	// Warm any cache before timing.
	if _, err := exec.Invoke(ctx, id, params); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := exec.Invoke(ctx, id, params); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkInvoke_NoCache(b *testing.B) {
	benchmarkInvoke(b, "hello", nil)
}

func BenchmarkInvoke_MemoryCache(b *testing.B) {
	benchmarkInvoke(b, "hello", nil, executor.WithMemoryCache())
}

func BenchmarkInvoke_DiskCache(b *testing.B) {
	benchmarkInvoke(b, "hello", nil, executor.WithDiskCache(b.TempDir()))
}

func BenchmarkInvoke_Interpreter(b *testing.B) {
	benchmarkInvoke(b, "hello", nil, executor.WithEngine(sandbox.EngineInterpreter))
}

func BenchmarkInvoke_Echo(b *testing.B) {
	params := map[string]string{"name": "alice", "n": "3", "lang": "go"}
	benchmarkInvoke(b, "echo", params, executor.WithMemoryCache())
}

func BenchmarkInvoke_Parallel(b *testing.B) {
	exec := newExecutor(b, executor.WithMemoryCache())
	ctx := context.Background()
	if _, err := exec.Invoke(ctx, "hello", nil); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := exec.Invoke(ctx, "hello", nil); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func TestCacheComparison(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping comparison in short mode")
	}

	fmt.Println()
	fmt.Printf("Platform: %s/%s, CPUs: %d\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	fmt.Println()

	const runs = 5
	modes := []struct {
		name string
		opts []executor.ExecutorOption
	}{
		{"none", nil},
		{"memory", []executor.ExecutorOption{executor.WithMemoryCache()}},
		{"disk", []executor.ExecutorOption{executor.WithDiskCache(t.TempDir())}},
		{"none (interpreter)", []executor.ExecutorOption{executor.WithEngine(sandbox.EngineInterpreter)}},
	}

	fmt.Println("┌────────────────────────┬───────────┬───────────┐")
	fmt.Println("│ Cache                  │ First     │ Warm      │")
	fmt.Println("├────────────────────────┼───────────┼───────────┤")
	for _, m := range modes {
		exec := newExecutor(t, m.opts...)

		first := measure(1, func() { exec.Invoke(context.Background(), "hello", nil) })
		warm := measure(runs, func() { exec.Invoke(context.Background(), "hello", nil) })

		fmt.Printf("│ %-22s │ %9s │ %9s │\n", m.name, formatDuration(first), formatDuration(warm))
	}
	fmt.Println("└────────────────────────┴───────────┴───────────┘")
	fmt.Println()
}

func measure(runs int, fn func()) time.Duration {
	var total time.Duration
	for i := 0; i < runs; i++ {
		start := time.Now()
		fn()
		total += time.Since(start)
	}
	return total / time.Duration(runs)
}

func formatDuration(d time.Duration) string {
	if d >= time.Millisecond {
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%dµs", d.Microseconds())
}

func TestMemoryUsage(t *testing.T) {
	var m runtime.MemStats

	runtime.GC()
	runtime.ReadMemStats(&m)
	before := m.Alloc

	exec := newExecutor(t)
	for i := 0; i < 20; i++ {
		if _, err := exec.Invoke(context.Background(), "echo", map[string]string{"i": fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}

	runtime.ReadMemStats(&m)
	after := m.Alloc

	exec.Close()
	runtime.GC()
	runtime.ReadMemStats(&m)

	t.Logf("Memory before: %d KB", before/1024)
	t.Logf("Memory after 20 invocations: %d KB", after/1024)
	t.Logf("Memory after GC: %d KB", m.Alloc/1024)
}

// TestDiskCacheBenefit simulates separate CLI runs sharing one cache dir.
func TestDiskCacheBenefit(t *testing.T) {
	cacheDir := t.TempDir()
	dir := wasmtest.Dir(t, wasmtest.Standard())

	var times []time.Duration
	for i := 0; i < 3; i++ {
		start := time.Now()

		exec, err := executor.New(loader.New(dir), executor.WithDiskCache(cacheDir))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := exec.Invoke(context.Background(), "echo", nil); err != nil {
			t.Fatal(err)
		}
		exec.Close()

		times = append(times, time.Since(start))
	}

	for i, d := range times {
		label := "cached"
		if i == 0 {
			label = "compile"
		}
		t.Logf("Call %d (%s): %v", i+1, label, d)
	}
}
