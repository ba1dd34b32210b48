package programfilter

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/blockdaemon/programfilter/pkg/programfilter/metrics"
	"github.com/blockdaemon/programfilter/pkg/programfilter/pubkey"
)

const (
	maxLineSize     = 64 * 1024
	shutdownTimeout = 5 * time.Second
)

// Run filters in into out until in is exhausted or ctx is done. Each line of
// in holds one base-58 program id; lines whose program is forwarded are
// copied to out. Lines that are not a valid id are forwarded unchanged.
//
// The allowlist refresher and the optional stats server run alongside and
// are stopped when Run returns.
func Run(ctx context.Context, config *Config, in io.Reader, out io.Writer) error {
	if config.Log == nil {
		config.Log = log.StandardLogger()
	}
	if config.MetricsClient == nil {
		config.MetricsClient = metrics.NewNoOpMetricsClient()
	}

	filter, err := New(ctx, config)
	if err != nil {
		return err
	}
	defer filter.Allowlist().Close()

	config.MetricsClient.SetStarted()

	var stats *StatsServer
	if config.StatsSocketDir != "" || config.StatsAddress != "" {
		stats = NewStatsServer(config, filter)
		if err := stats.Listen(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if filter.Allowlist().URL() != "" {
		refresher := NewRefresher(filter.Allowlist(), config.RefreshCheckInterval, config.MetricsClient)
		g.Go(func() error {
			return refresher.Run(ctx)
		})
	}

	if stats != nil {
		g.Go(stats.Serve)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			return stats.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return pump(ctx, filter, in, out)
	})

	return g.Wait()
}

// fragment is a piece of one input line. Lines that fit the read buffer
// arrive as a single fragment with first and last both set.
type fragment struct {
	data        string
	first, last bool
}

// readLines sends the lines of in, split into fragments, until in is
// exhausted or ctx is done.
func readLines(ctx context.Context, in io.Reader, lines chan<- fragment) error {
	defer close(lines)

	r := bufio.NewReaderSize(in, maxLineSize)
	continued := false
	for {
		b, isPrefix, err := r.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		select {
		case lines <- fragment{data: string(b), first: !continued, last: !isPrefix}:
		case <-ctx.Done():
			return nil
		}
		continued = isPrefix
	}
}

// pump copies forwarded lines from in to out. The reading goroutine is left
// blocked in Read if ctx is cancelled first.
//
// A line longer than the read buffer cannot be a program id. It is decided
// as malformed input and streamed to out without being held in memory.
func pump(ctx context.Context, filter *Filter, in io.Reader, out io.Writer) error {
	lines := make(chan fragment, 64)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readLines(ctx, in, lines)
	}()

	w := bufio.NewWriter(out)
	defer w.Flush()

	forwardLong := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-lines:
			if !ok {
				return <-readErr
			}

			var err error
			switch {
			case f.first && f.last:
				err = filterLine(filter, w, f.data)
			case f.first:
				forwardLong = filter.WantsProgram(nil)
				fallthrough
			default:
				err = writeFragment(w, f, forwardLong)
			}
			if err != nil {
				return err
			}

			if len(lines) == 0 {
				if err := w.Flush(); err != nil {
					return err
				}
			}
		}
	}
}

func writeFragment(w *bufio.Writer, f fragment, forward bool) error {
	if !forward {
		return nil
	}
	if _, err := w.WriteString(f.data); err != nil {
		return err
	}
	if f.last {
		return w.WriteByte('\n')
	}
	return nil
}

func filterLine(filter *Filter, w *bufio.Writer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var program []byte
	if key, err := pubkey.Parse(line); err == nil {
		program = key[:]
	}
	if !filter.WantsProgram(program) {
		return nil
	}

	if _, err := w.WriteString(line); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// StartWithConfig runs the filter over stdin and stdout until stdin closes,
// a termination signal arrives, or quit is closed.
func StartWithConfig(config *Config, quit <-chan interface{}) {
	config.Log.WithField("version", Version()).Println("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kill := make(chan os.Signal, 1)
	signal.Notify(kill, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(kill)
	go func() {
		select {
		case sig := <-kill:
			config.Log.WithField("signal", sig.String()).Print("quitting")
		case <-quit:
			config.Log.Print("quitting now")
		case <-ctx.Done():
			return
		}
		cancel()
	}()

	if err := Run(ctx, config, os.Stdin, os.Stdout); err != nil {
		config.Log.Fatal(err)
	}
	config.Log.Print("stopped")
}
