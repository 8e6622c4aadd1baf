// Command devtime-replay feeds a recorded stamp log through the device time
// translator under one or more filter algorithms and reports how closely
// each tracked the host clock.
//
// Usage:
//
//	devtime-replay -log stamps.csv [-config translator.json] [-algo all]
//	devtime-replay sessions -db replay.db [-delete <session-id>]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/devicetime/internal/analysis"
	"github.com/banshee-data/devicetime/internal/api"
	"github.com/banshee-data/devicetime/internal/config"
	"github.com/banshee-data/devicetime/internal/db"
	"github.com/banshee-data/devicetime/internal/devicetime"
	"github.com/banshee-data/devicetime/internal/monitoring"
	"github.com/banshee-data/devicetime/internal/stamplog"
	"github.com/banshee-data/devicetime/internal/version"
)

var (
	logPath     = flag.String("log", "", "Stamp log CSV to replay")
	configPath  = flag.String("config", "", "Translator config file (.json, .yaml); built-in defaults when empty")
	algoFlag    = flag.String("algo", "all", "Filter algorithm: None, ConvexHull, Kalman or all")
	switchTime  = flag.Float64("switch-time", -1, "Override switch_time_secs; negative keeps the configured value")
	useTransmit = flag.Bool("transmit", false, "Subtract the on-device transmit delay (log needs transmit_ticks)")
	passThrough = flag.Bool("passthrough", false, "Treat event_ticks as a counter that never wraps")
	jsonOut     = flag.String("json", "", "Write the replay report as JSON to this path")
	plotOut     = flag.String("plot", "", "Write a PNG residual plot to this path")
	htmlOut     = flag.String("html", "", "Write an HTML residual chart to this path")
	dbPath      = flag.String("db", "", "Store the replay session in this SQLite database")
	listen      = flag.String("listen", "", "Serve the report and debug routes on this address after replaying")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// options is everything a replay run needs, decoupled from the flag globals.
type options struct {
	LogPath     string
	ConfigPath  string
	Algo        string
	SwitchTime  float64
	UseTransmit bool
	PassThrough bool
}

func optionsFromFlags() options {
	return options{
		LogPath:     *logPath,
		ConfigPath:  *configPath,
		Algo:        *algoFlag,
		SwitchTime:  *switchTime,
		UseTransmit: *useTransmit,
		PassThrough: *passThrough,
	}
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "sessions" {
		if err := runSessions(os.Args[2:], os.Stdout); err != nil {
			log.Fatalf("sessions: %v", err)
		}
		return
	}

	flag.Parse()

	if *showVersion {
		fmt.Println("devtime-replay", version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	opts := optionsFromFlags()
	if opts.LogPath == "" {
		log.Fatal("Stamp log is required (-log)")
	}

	in, results, err := replay(opts)
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}
	printSummary(os.Stdout, results)
	report := analysis.NewReport(opts.LogPath, in, results)

	if *jsonOut != "" {
		if err := report.WriteJSONFile(*jsonOut); err != nil {
			log.Printf("Warning: failed to export JSON: %v", err)
		} else {
			log.Printf("Report exported to: %s", *jsonOut)
		}
	}
	if *plotOut != "" {
		if err := analysis.WritePNG(results, *plotOut); err != nil {
			log.Printf("Warning: failed to write plot: %v", err)
		} else {
			log.Printf("Plot written to: %s", *plotOut)
		}
	}
	if *htmlOut != "" {
		if err := analysis.WriteHTMLFile(*htmlOut, results, opts.LogPath); err != nil {
			log.Printf("Warning: failed to write chart: %v", err)
		} else {
			log.Printf("Chart written to: %s", *htmlOut)
		}
	}

	var store *db.DB
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()

		sessionID, err := analysis.Save(store, opts.LogPath, in, results)
		if err != nil {
			log.Fatalf("Failed to store session: %v", err)
		}
		log.Printf("Stored session %s in %s", sessionID, *dbPath)
	}

	if *listen != "" {
		mux, err := newMux(report, store)
		if err != nil {
			log.Fatalf("Failed to set up routes: %v", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := serve(ctx, *listen, mux); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}
}

// loadTuning reads the translator config, or returns the built-in defaults
// when path is empty.
func loadTuning(path string) (*config.TranslatorConfig, error) {
	if path == "" {
		return config.DefaultTranslatorConfig(), nil
	}
	return config.LoadTranslatorConfig(path)
}

// selectAlgorithms parses the -algo flag.
func selectAlgorithms(s string) ([]devicetime.FilterAlgorithm, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return devicetime.FilterAlgorithms(), nil
	}
	var algos []devicetime.FilterAlgorithm
	for _, name := range strings.Split(s, ",") {
		algo, err := devicetime.ParseFilterAlgorithm(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		algos = append(algos, algo)
	}
	return algos, nil
}

// buildInput resolves the tuning file and flag overrides into a replay input.
func buildInput(opts options, records []stamplog.Record) (analysis.Input, error) {
	tuning, err := loadTuning(opts.ConfigPath)
	if err != nil {
		return analysis.Input{}, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := devicetime.ConfigFromTuning(tuning)
	if err != nil {
		return analysis.Input{}, err
	}
	if opts.SwitchTime >= 0 {
		cfg = cfg.WithSwitchTimeSecs(opts.SwitchTime)
	}
	params, err := devicetime.WrappingClockParametersFromTuning(tuning)
	if err != nil {
		return analysis.Input{}, err
	}
	return analysis.Input{
		Records:     records,
		Params:      params,
		Config:      cfg,
		UseTransmit: opts.UseTransmit,
		PassThrough: opts.PassThrough,
	}, nil
}

// replay reads the stamp log and replays it under every selected algorithm.
func replay(opts options) (analysis.Input, []*analysis.Result, error) {
	algos, err := selectAlgorithms(opts.Algo)
	if err != nil {
		return analysis.Input{}, nil, err
	}
	records, err := stamplog.ReadFile(opts.LogPath)
	if err != nil {
		return analysis.Input{}, nil, err
	}
	in, err := buildInput(opts, records)
	if err != nil {
		return analysis.Input{}, nil, err
	}
	log.Printf("Replaying %d stamps from %s (modulus %d, %.0f Hz, switch %.1fs)",
		len(records), opts.LogPath, in.Params.WrapModulus, in.Params.TickFrequencyHz, in.Config.SwitchTimeSecs)

	start := time.Now()
	results, err := analysis.ReplayAll(in, algos)
	if err != nil {
		return analysis.Input{}, nil, err
	}
	monitoring.Verbosef("replayed %d algorithms in %v", len(algos), time.Since(start))
	return in, results, nil
}

func formatReadyAfter(v *float64) string {
	if v == nil {
		return "never"
	}
	return fmt.Sprintf("%.3fs", *v)
}

// printSummary writes one row of residual statistics per algorithm.
func printSummary(w io.Writer, results []*analysis.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ALGORITHM\tREADY AFTER\tSAMPLES\tMEAN (ms)\tSTDDEV (ms)\tP95 (ms)\tBELOW ZERO\tANOMALIES")
	for _, res := range results {
		s := res.Stats
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%.3f\t%.3f\t%.1f%%\t%d\n",
			res.Algorithm, formatReadyAfter(res.ReadyAfter), s.Samples,
			s.Mean*1e3, s.Stddev*1e3, s.P95*1e3, s.BelowZeroFraction*100, res.Anomalies)
	}
	tw.Flush()
}

// newMux mounts the replay API, plus the database debug routes when a
// store is open.
func newMux(report *analysis.Report, store *db.DB) (*http.ServeMux, error) {
	mux := api.NewServer(report, store).ServeMux()
	if store != nil {
		if err := store.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, addr string, mux *http.ServeMux) error {
	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Serving replay report on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

// runSessions lists stored replay sessions, or deletes one.
func runSessions(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	fs.SetOutput(w)
	path := fs.String("db", "", "SQLite database holding replay sessions")
	del := fs.String("delete", "", "Delete the session with this ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("database is required (-db)")
	}

	store, err := db.NewDB(*path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	if *del != "" {
		if err := store.DeleteSession(*del); err != nil {
			return err
		}
		fmt.Fprintf(w, "Deleted session %s\n", *del)
		return nil
	}

	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tCREATED\tSOURCE\tALGORITHMS")
	for _, s := range sessions {
		summaries, err := store.Summaries(s.SessionID)
		if err != nil {
			return err
		}
		names := make([]string, len(summaries))
		for i, sum := range summaries {
			names[i] = sum.Algorithm
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.SessionID,
			time.Unix(0, s.CreatedAt).UTC().Format(time.RFC3339), s.Source, strings.Join(names, ","))
	}
	return tw.Flush()
}
