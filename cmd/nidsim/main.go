package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/iti/nidsim"
	"github.com/iti/nidsim/internal/logging"
	"github.com/iti/nidsim/internal/observability"
	"github.com/iti/nidsim/internal/publish"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options holds what the command line asks for beyond the experiment itself
type options struct {
	config      string
	trace       string
	metrics     string
	summary     string
	writeConfig string
	logLevel    string
	logFormat   string
	natsURL     string
	natsSubject string
}

// run executes one experiment and returns the process exit code.  The
// result line is the only thing written to stdout.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("nidsim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.config, "config", "", "experiment description (.yaml or .json); the reference scenario when empty")
	fs.StringVar(&opts.trace, "trace", "", "write per-window snapshots to this .yaml, .json, or .csv file")
	fs.StringVar(&opts.metrics, "metrics", "", "write Prometheus metrics to this textfile")
	fs.StringVar(&opts.summary, "summary", "", "write the full run summary to this .yaml or .json file")
	fs.StringVar(&opts.writeConfig, "write-config", "", "write the effective experiment description here and exit")
	fs.StringVar(&opts.logLevel, "log-level", os.Getenv("NIDSIM_LOG_LEVEL"), "debug, info, warn, or error")
	fs.StringVar(&opts.logFormat, "log-format", os.Getenv("NIDSIM_LOG_FORMAT"), "text or json")
	fs.StringVar(&opts.natsURL, "nats-url", "", "publish the run record to this NATS server")
	fs.StringVar(&opts.natsSubject, "nats-subject", "nidsim.results", "NATS subject for the run record")

	seed := fs.Uint64("seed", 1, "random seed")
	simTime := fs.Float64("simtime", 10.0, "end of the traffic windows, seconds")
	floodPps := fs.Float64("flood-pps", 0, "packets per second of each flood client")
	floodSize := fs.Int("flood-size", 0, "flood packet size, bytes")
	rate := fs.String("rate", "", "bottleneck rate, e.g. 30Mbps")
	queue := fs.String("queue", "", "bottleneck queue size, e.g. 100p")
	cpu := fs.Int("cpu", -1, "inspections per refill window")
	blocking := fs.Bool("blocking", false, "discard detected attack packets")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := logging.New(logging.Config{Level: opts.logLevel, Format: opts.logFormat, Output: stderr})
	ctx := context.Background()

	cfg := nidsim.DefaultNidsCfg()
	if opts.config != "" {
		if ok, err := nidsim.CheckReadableFiles([]string{opts.config}); !ok {
			log.Error(ctx, "experiment description not readable", logging.Err(err))
			return 1
		}
		loaded, err := nidsim.LoadNidsCfg(opts.config)
		if err != nil {
			log.Error(ctx, "failed to load experiment description", logging.Err(err))
			return 1
		}
		cfg = loaded
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["seed"] {
		cfg.Seed = *seed
	}
	if set["simtime"] {
		// windows that ran to the old end, or past the new one, end with the run
		for idx := range cfg.Sources {
			if src := &cfg.Sources[idx]; src.Stop == cfg.SimTime || src.Stop > *simTime {
				src.Stop = *simTime
			}
		}
		cfg.SimTime = *simTime
	}
	if set["blocking"] {
		cfg.CPU.Blocking = *blocking
	}
	flood := []nidsim.AttrbStruct{{AttrbName: "role", AttrbValue: "flood"}}
	if set["flood-pps"] {
		cfg.Parameters = append(cfg.Parameters,
			*nidsim.CreateExpParameter("Source", flood, "pps", strconv.FormatFloat(*floodPps, 'g', -1, 64)))
	}
	if set["flood-size"] {
		cfg.Parameters = append(cfg.Parameters,
			*nidsim.CreateExpParameter("Source", flood, "size", strconv.Itoa(*floodSize)))
	}
	if set["rate"] {
		cfg.Parameters = append(cfg.Parameters, *nidsim.CreateExpParameter("Queue", nidsim.WildcardAttrb(), "rate", *rate))
	}
	if set["queue"] {
		cfg.Parameters = append(cfg.Parameters, *nidsim.CreateExpParameter("Queue", nidsim.WildcardAttrb(), "queue", *queue))
	}
	if set["cpu"] {
		cfg.Parameters = append(cfg.Parameters,
			*nidsim.CreateExpParameter("CPU", nidsim.WildcardAttrb(), "capacity", strconv.Itoa(*cpu)))
	}

	if opts.writeConfig != "" {
		if err := cfg.WriteToFile(opts.writeConfig); err != nil {
			log.Error(ctx, "failed to write experiment description", logging.Err(err))
			return 1
		}
		return 0
	}

	if ok, err := nidsim.CheckOutputFiles([]string{opts.trace, opts.metrics, opts.summary}); !ok {
		log.Error(ctx, "output location not usable", logging.Err(err))
		return 1
	}

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		return 1
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	traceMgr := nidsim.CreateTraceManager(cfg.Name, opts.trace != "")
	sim, err := nidsim.BuildSimulation(cfg, traceMgr, log)
	if err != nil {
		log.Error(ctx, "failed to build simulation", logging.Err(err))
		return 1
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	start := time.Now()
	sm, err := sim.Run(runCtx)
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		return 1
	}
	log.Info(ctx, "run finished", logging.String("wall", time.Since(start).String()))

	if err := sm.WriteResult(stdout); err != nil {
		log.Error(ctx, "failed to write result", logging.Err(err))
		return 1
	}

	status := 0
	if opts.trace != "" {
		if err := traceMgr.WriteToFile(opts.trace); err != nil {
			log.Error(ctx, "failed to write trace", logging.Err(err))
			status = 1
		}
	}
	if opts.summary != "" {
		if err := sm.WriteToFile(opts.summary); err != nil {
			log.Error(ctx, "failed to write summary", logging.Err(err))
			status = 1
		}
	}
	if opts.metrics != "" {
		if err := exportMetrics(opts.metrics, sm); err != nil {
			log.Error(ctx, "failed to export metrics", logging.Err(err))
			status = 1
		}
	}
	if opts.natsURL != "" {
		if err := publishRecord(ctx, opts, sm, log); err != nil {
			log.Error(ctx, "failed to publish run record", logging.Err(err))
			status = 1
		}
	}
	return status
}

func exportMetrics(filename string, sm *nidsim.Summary) error {
	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	collector.Record(sm.Name, sm.CounterMap(), sm.MetricMap())
	return collector.WriteTextfile(filename)
}

func publishRecord(ctx context.Context, opts options, sm *nidsim.Summary, log logging.Logger) error {
	pub, err := publish.NewPublisher(publish.Config{URL: opts.natsURL, Subject: opts.natsSubject}, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pub.Publish(ctx, sm.Record()); err != nil {
		return fmt.Errorf("publish %s: %w", sm.Name, err)
	}
	return nil
}
