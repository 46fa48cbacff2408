package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	kernelrt "github.com/wippyai/kernel-runtime"
	"github.com/wippyai/kernel-runtime/bridge"
	"github.com/wippyai/kernel-runtime/config"
	"github.com/wippyai/kernel-runtime/engine"
	"github.com/wippyai/kernel-runtime/examples/scale"
	"github.com/wippyai/kernel-runtime/job"
	"github.com/wippyai/kernel-runtime/layout"
	"github.com/wippyai/kernel-runtime/transcoder"
)

type options struct {
	config   string
	kernels  int
	width    int
	capacity uint
	factor   float64
	verbose  bool
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "Path to kernelrun.toml (default: search upwards from the working directory)")
	flag.IntVar(&opts.kernels, "kernels", 1000, "Number of kernels to run")
	flag.IntVar(&opts.width, "width", 16, "Values per kernel")
	flag.UintVar(&opts.capacity, "capacity", 0, "Initial heap capacity in bytes (overrides config)")
	flag.Float64Var(&opts.factor, "factor", 2, "Scale factor; negative makes kernels raise")
	flag.BoolVar(&opts.verbose, "v", false, "Debug logging")
	interactive := flag.Bool("i", false, "Interactive mode with TUI")
	flag.Parse()

	if opts.kernels < 0 || opts.width < 0 {
		fmt.Fprintln(os.Stderr, "Usage: kernelrun [-config file] [-kernels N] [-width N] [-capacity bytes] [-factor f] [-v]")
		fmt.Fprintln(os.Stderr, "       kernelrun -i  (interactive mode)")
		os.Exit(1)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -i requires a terminal")
			os.Exit(1)
		}
		if err := runInteractive(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.config != "" {
		cfg, err = config.Load(opts.config)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if opts.capacity > 0 {
		cfg.Heap.Capacity = uint32(min(opts.capacity, uint(job.MaxCapacity)))
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func setLogger(l *zap.Logger) {
	engine.SetLogger(l)
	bridge.SetLogger(l)
	transcoder.SetLogger(l)
	job.SetLogger(l)
}

// session is one configured job ready to run.
type session struct {
	cfg    *config.Config
	eng    *engine.WazeroEngine
	bridge *bridge.Bridge
	driver *job.Driver
	rows   []*scale.Row
}

func newSession(ctx context.Context, cfg *config.Config, opts options, obs job.PassObserver) (*session, error) {
	platform := bridge.DetectPlatform()
	eng, err := engine.NewWazeroEngineWithConfig(ctx, cfg.EngineConfig(platform))
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	reg := layout.NewRegistry()
	src, err := scale.Source(reg)
	if err != nil {
		eng.Close(ctx)
		return nil, fmt.Errorf("generate job module: %w", err)
	}

	jc, err := cfg.JobConfig()
	if err != nil {
		eng.Close(ctx)
		return nil, err
	}
	jc.Observer = obs

	b := bridge.New(eng, bridge.WithPlatform(platform))
	return &session{
		cfg:    cfg,
		eng:    eng,
		bridge: b,
		driver: job.NewDriver(b, reg, src, jc),
		rows:   scale.Rows(opts.kernels, opts.width, opts.factor),
	}, nil
}

func (s *session) run(ctx context.Context) (*job.Result, error) {
	ks := make([]kernelrt.Kernel, len(s.rows))
	for i, r := range s.rows {
		ks[i] = r
	}
	return s.driver.Run(ctx, slices.Values(ks))
}

// verify recomputes the committed rows on the host and returns the first
// mismatching index, or -1.
func (s *session) verify(committed int) int {
	for i := 0; i < committed; i++ {
		want, sum := scale.Expect(s.rows[i])
		if !slices.Equal(want, s.rows[i].Result) || sum != s.rows[i].Sum {
			return i
		}
	}
	return -1
}

func (s *session) close(ctx context.Context) {
	s.bridge.Close(ctx)
	s.eng.Close(ctx)
}

func run(opts options) error {
	ctx := context.Background()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	setLogger(logger)

	obs := job.ObserverFunc(func(r job.PassReport) {
		if opts.verbose {
			fmt.Printf("  pass %d: %d kernels, %d committed, capacity %d, exhausted=%v\n",
				r.Pass, r.Kernels, r.Committed, r.Capacity, r.Exhausted)
		}
	})
	s, err := newSession(ctx, cfg, opts, obs)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	fmt.Printf("Running %d kernels (%d values each) on %s\n", opts.kernels, opts.width, s.bridge.Platform())
	start := time.Now()
	res, runErr := s.run(ctx)
	elapsed := time.Since(start)

	fmt.Printf("\nState:     %s\n", res.State)
	fmt.Printf("Passes:    %d\n", res.Passes)
	fmt.Printf("Completed: %d/%d\n", len(res.Completed), opts.kernels)
	fmt.Printf("Allocated: %d native objects\n", res.Allocated)
	fmt.Printf("Capacity:  %d bytes\n", res.Capacity)
	fmt.Printf("Elapsed:   %s\n", elapsed.Round(time.Microsecond))

	if bad := s.verify(len(res.Completed)); bad >= 0 {
		return fmt.Errorf("kernel %d result does not match host computation", bad)
	}
	return runErr
}
