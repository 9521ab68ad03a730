// Command chanbench measures channel throughput and optionally serves the
// channel metrics while it runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aradilov/ringchan"
	"github.com/aradilov/ringchan/directed"
	"github.com/aradilov/ringchan/internal/config"
	"github.com/aradilov/ringchan/internal/futex"
	"github.com/aradilov/ringchan/internal/logging"
	"github.com/aradilov/ringchan/metrics"
	"github.com/aradilov/ringchan/mpsc"
	"github.com/aradilov/ringchan/oneshot"
	"github.com/aradilov/ringchan/park"
)

func main() {
	producers := flag.Int("producers", 4, "Number of producer goroutines")
	messages := flag.Int("messages", 1_000_000, "Messages per producer")
	kind := flag.String("kind", "counting", "Channel kind: counting, directed or oneshot")
	addr := flag.String("metrics", "", "Serve Prometheus metrics on this address, e.g. :9100")
	rounds := flag.Int("rounds", 1, "Benchmark rounds")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg, cfgErr := config.Get()
	logger, err := logging.New(cfg.LogLevel, *dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chanbench: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()
	ringchan.SetLogger(logger)
	if cfgErr != nil {
		logger.Warn("invalid environment config, using defaults", zap.Error(cfgErr))
	}

	logger.Info("starting",
		zap.String("kind", *kind),
		zap.Int("producers", *producers),
		zap.Int("messages", *messages),
		zap.Uint64("segment_size", cfg.SegmentSize),
		zap.String("wait_backend", futex.Backend()))

	collector := metrics.NewCollector("ringchan", nil)
	var srv *http.Server
	if *addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i := 0; i < *rounds && ctx.Err() == nil; i++ {
		var (
			n   int
			dur time.Duration
		)
		switch *kind {
		case "counting":
			n, dur = runCounting(collector, *producers, *messages)
		case "directed":
			n, dur = runDirected(collector, *producers, *messages)
		case "oneshot":
			n, dur = runOneshot(*producers, *messages)
		default:
			logger.Fatal("unknown kind", zap.String("kind", *kind))
		}
		fmt.Printf("%s round %d: %d msgs in %v (%.1f Mmsg/s)\n",
			*kind, i+1, n, dur, float64(n)/dur.Seconds()/1e6)
	}

	if srv != nil {
		// keep serving until interrupted
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
}

func produce(producers, messages int, send func(p int) func(int), closeAll func()) {
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(s func(int)) {
			defer wg.Done()
			for i := 0; i < messages; i++ {
				s(i)
			}
		}(send(p))
	}
	wg.Wait()
	closeAll()
}

func runCounting(c *metrics.Collector, producers, messages int) (int, time.Duration) {
	tx, rx := mpsc.New[int](mpsc.WithName[int]("bench-counting"))
	c.Register(rx)
	defer c.Unregister("bench-counting")

	senders := make([]*mpsc.Sender[int], producers)
	for i := range senders {
		senders[i] = tx.Clone()
	}
	tx.Close()

	start := time.Now()
	go produce(producers, messages,
		func(p int) func(int) { return senders[p].Send },
		func() {
			for _, s := range senders {
				s.Close()
			}
		})

	n := 0
	for range rx.All() {
		n++
	}
	dur := time.Since(start)
	rx.Close()
	return n, dur
}

func runDirected(c *metrics.Collector, producers, messages int) (int, time.Duration) {
	tx, rx := directed.New[int](park.NewThread("bench"), directed.WithName[int]("bench-directed"))
	c.Register(rx)
	defer c.Unregister("bench-directed")

	senders := make([]*directed.Sender[int], producers)
	for i := range senders {
		senders[i] = tx.Clone()
	}
	tx.Close()

	start := time.Now()
	go produce(producers, messages,
		func(p int) func(int) { return senders[p].Send },
		func() {
			for _, s := range senders {
				s.Close()
			}
		})

	n := 0
	for range rx.All() {
		n++
	}
	dur := time.Since(start)
	rx.Close()
	return n, dur
}

// runOneshot measures request/reply handoffs through an exclusive slot arena.
func runOneshot(workers, messages int) (int, time.Duration) {
	arena := oneshot.NewArena[int](uint64(nextPow2(workers * 2)))

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			me := park.NewThread("oneshot-bench")
			for i := 0; i < messages; i++ {
				tx, rx, err := arena.Split(me)
				if err != nil {
					panic(err)
				}
				go tx.Send(i)
				if got := rx.Recv(); got != i {
					panic(fmt.Sprintf("oneshot: got %d, want %d", got, i))
				}
			}
		}()
	}
	wg.Wait()
	return workers * messages, time.Since(start)
}

func nextPow2(n int) int {
	p := 2
	for p < n {
		p <<= 1
	}
	return p
}
