package bridge

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wippyai/kernel-runtime/errors"
	"github.com/wippyai/kernel-runtime/heap"
)

type fakeModule struct {
	run      func(bufs *heap.Buffers) (int32, error)
	inFlight *atomic.Int32
	peak     *atomic.Int32
	closed   bool
}

func (m *fakeModule) Execute(_ context.Context, bufs *heap.Buffers, _ int) (int32, error) {
	if m.inFlight != nil {
		n := m.inFlight.Add(1)
		defer m.inFlight.Add(-1)
		for {
			p := m.peak.Load()
			if n <= p || m.peak.CompareAndSwap(p, n) {
				break
			}
		}
	}
	if m.run == nil {
		return heap.StatusOK, nil
	}
	return m.run(bufs)
}

func (m *fakeModule) Close(context.Context) error {
	m.closed = true
	return nil
}

type fakeProvider struct {
	supportErr error
	compileErr error
	run        func(bufs *heap.Buffers) (int32, error)
	modules    []*fakeModule
	inFlight   atomic.Int32
	peak       atomic.Int32
	supports   int
	compiles   int
}

func (p *fakeProvider) LoadSupport(context.Context, Platform) error {
	p.supports++
	return p.supportErr
}

func (p *fakeProvider) CompileAndLoad(_ context.Context, _ []byte, _ Platform) (Module, error) {
	p.compiles++
	if p.compileErr != nil {
		return nil, p.compileErr
	}
	m := &fakeModule{run: p.run, inFlight: &p.inFlight, peak: &p.peak}
	p.modules = append(p.modules, m)
	return m, nil
}

func src(s string) Source {
	return Source{Unix: []byte(s), Windows: []byte(s + ".exe")}
}

func TestBridge_CompileOnce(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	b := New(p, WithPlatform(PlatformUnix))

	if b.State() != Uninitialized {
		t.Fatalf("initial state = %s", b.State())
	}
	for i := 0; i < 3; i++ {
		if _, err := b.Execute(ctx, src("a"), heap.New(8, 1, 1), 1); err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}
	if p.supports != 1 || p.compiles != 1 {
		t.Errorf("supports = %d compiles = %d, want 1/1", p.supports, p.compiles)
	}
	if b.State() != Ready {
		t.Errorf("state = %s, want ready", b.State())
	}

	if _, err := b.Execute(ctx, src("b"), heap.New(8, 1, 1), 1); err != nil {
		t.Fatal(err)
	}
	if p.supports != 1 {
		t.Errorf("support module loaded %d times", p.supports)
	}
	if p.compiles != 2 {
		t.Errorf("compiles = %d, want 2", p.compiles)
	}
	if !p.modules[0].closed {
		t.Error("previous module not closed")
	}
}

func TestBridge_BrokenAfterFailure(t *testing.T) {
	ctx := context.Background()
	compileErr := &errors.CompileError{Command: []string{"wat2wasm", "job.wat"}, ExitCode: 1}

	tests := []struct {
		name     string
		provider *fakeProvider
		first    error
	}{
		{"compile", &fakeProvider{compileErr: compileErr}, errors.ErrCompileFailed},
		{"support", &fakeProvider{supportErr: stderrors.New("duplicate module")}, errors.ErrCompileFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.provider)
			_, err := b.Execute(ctx, src("a"), heap.New(8, 1, 1), 1)
			if !stderrors.Is(err, tt.first) {
				t.Fatalf("first err = %v, want %v", err, tt.first)
			}
			if b.State() != Broken {
				t.Fatalf("state = %s, want broken", b.State())
			}

			calls := tt.provider.supports + tt.provider.compiles
			_, err = b.Execute(ctx, src("b"), heap.New(8, 1, 1), 1)
			if !stderrors.Is(err, errors.ErrBridgeUnavailable) {
				t.Errorf("second err = %v, want bridge unavailable", err)
			}
			if tt.provider.supports+tt.provider.compiles != calls {
				t.Error("broken bridge retried compilation")
			}
		})
	}
}

func TestBridge_CompileErrorDetail(t *testing.T) {
	ce := &errors.CompileError{Command: []string{"wat2wasm"}, ExitCode: 2, Output: "syntax error"}
	b := New(&fakeProvider{compileErr: ce})
	_, err := b.Execute(context.Background(), src("a"), heap.New(8, 1, 1), 1)

	var got *errors.CompileError
	if !stderrors.As(err, &got) || got.ExitCode != 2 {
		t.Fatalf("err = %v, want compile error with exit code", err)
	}
}

func TestBridge_Status(t *testing.T) {
	tests := []struct {
		name   string
		run    func(bufs *heap.Buffers) (int32, error)
		status int32
		target error
	}{
		{"ok", func(*heap.Buffers) (int32, error) { return heap.StatusOK, nil }, heap.StatusOK, nil},
		{"exception", func(bufs *heap.Buffers) (int32, error) {
			_ = bufs.Raise(0, 0, 0, nil)
			return heap.StatusException, nil
		}, heap.StatusException, nil},
		{"fault", func(*heap.Buffers) (int32, error) { return heap.StatusFault, nil }, heap.StatusFault, errors.ErrNativeFault},
		{"module error", func(*heap.Buffers) (int32, error) {
			return heap.StatusFault, stderrors.New("trap")
		}, heap.StatusFault, errors.ErrNativeFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(&fakeProvider{run: tt.run})
			status, err := b.Execute(context.Background(), src("a"), heap.New(8, 1, 1), 1)
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			if tt.target == nil && err != nil {
				t.Errorf("unexpected err: %v", err)
			}
			if tt.target != nil && !stderrors.Is(err, tt.target) {
				t.Errorf("err = %v, want %v", err, tt.target)
			}
			if b.State() != Ready {
				t.Errorf("state = %s, a native fault should not break the bridge", b.State())
			}
		})
	}
}

func TestBridge_SerializesCalls(t *testing.T) {
	p := &fakeProvider{}
	b := New(p)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Execute(context.Background(), src("a"), heap.New(8, 1, 1), 1)
		}()
	}
	wg.Wait()

	if p.peak.Load() != 1 {
		t.Errorf("peak concurrent executions = %d, want 1", p.peak.Load())
	}
	if p.compiles != 1 {
		t.Errorf("compiles = %d, want 1", p.compiles)
	}
}

func TestBridge_Close(t *testing.T) {
	p := &fakeProvider{}
	b := New(p)
	if _, err := b.Execute(context.Background(), src("a"), heap.New(8, 1, 1), 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !p.modules[0].closed {
		t.Error("module not closed")
	}
	if _, err := b.Execute(context.Background(), src("a"), heap.New(8, 1, 1), 1); !stderrors.Is(err, errors.ErrBridgeUnavailable) {
		t.Errorf("err after close = %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Uninitialized, Compiling, true},
		{Uninitialized, Ready, false},
		{Compiling, Loaded, true},
		{Compiling, Ready, false},
		{Loaded, Ready, true},
		{Ready, Compiling, true},
		{Ready, Loaded, false},
		{Broken, Compiling, false},
		{Broken, Ready, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestSource(t *testing.T) {
	s := Source{Unix: []byte("u"), Windows: []byte("w")}
	if string(s.For(PlatformUnix)) != "u" || string(s.For(PlatformWindows)) != "w" {
		t.Error("For picked the wrong variant")
	}
	if s.Digest(PlatformUnix) == s.Digest(PlatformWindows) {
		t.Error("variants should have distinct digests")
	}
	if string(Source{Unix: []byte("u")}.For(PlatformWindows)) != "u" {
		t.Error("missing windows variant should fall back to unix")
	}
	if platformFor("windows") != PlatformWindows || platformFor("darwin") != PlatformUnix {
		t.Error("platformFor")
	}
}

func TestLimits(t *testing.T) {
	b := New(&fakeProvider{})
	l := b.Limits()
	if l.MaxEnqueueSize != 1<<30 || l.MaxMemoryAllocSize != 1<<30 || l.NumBlocks != 1<<30 {
		t.Errorf("limits = %+v", l)
	}
	if _, err := b.GlobalMemSize(); err == nil {
		t.Error("GlobalMemSize should be unsupported")
	}
	if b.MaxThreads() < 1 {
		t.Error("MaxThreads < 1")
	}
}
