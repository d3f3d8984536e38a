package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/kwv/meshalign/align"
	"github.com/kwv/meshalign/store"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *align.Config
	State      *align.StateTracker
	Extractor  *align.Extractor
	MQTTClient *align.MQTTClient
	Publisher  *align.Publisher
	History    *store.Store

	Out     io.Writer
	Verbose bool
}

// ExtractOptions configures one extract run
type ExtractOptions struct {
	Path            string
	URL             string
	Session         string
	Format          string
	Output          string
	MaxClusters     int
	MaxClustersSet  bool
	StopStrength    float64
	StopStrengthSet bool
	Record          bool
}

// ServeOptions configures the service mode
type ServeOptions struct {
	MQTT     bool
	HTTP     bool
	HTTPPort int
}

// HistoryOptions configures the history command
type HistoryOptions struct {
	Session string
	Limit   int
	RunID   string
	Keep    int
	JSON    bool
}

// NewApp creates a new App instance
func NewApp(config *align.Config, out io.Writer) *App {
	if config == nil {
		config = align.DefaultConfig()
	}
	if out == nil {
		out = os.Stdout
	}
	return &App{
		Config: config,
		State:  align.NewStateTracker(),
		Out:    out,
	}
}

// loadConfig loads a config file. A missing file yields the defaults unless
// required is set.
func loadConfig(path string, required bool) (*align.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !required {
		return align.DefaultConfig(), nil
	}
	config, err := align.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return config, nil
}

// openHistory opens the history database when one is configured
func (a *App) openHistory() error {
	if a.History != nil || a.Config.HistoryDB == "" {
		return nil
	}
	s, err := store.Open(a.Config.HistoryDB)
	if err != nil {
		return fmt.Errorf("opening history %s: %w", a.Config.HistoryDB, err)
	}
	a.History = s
	log.Printf("[STORE] Opened history database %s", a.Config.HistoryDB)
	return nil
}

// historyReader returns the history as an interface, nil when disabled
func (a *App) historyReader() historyReader {
	if a.History == nil {
		return nil
	}
	return a.History
}

// Close releases the history database and the MQTT connection
func (a *App) Close() {
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			log.Printf("[STORE] Error closing history: %v", err)
		}
		a.History = nil
	}
}

// RunExtract loads a feature set, extracts its clusters and writes them in
// the requested format
func (a *App) RunExtract(ctx context.Context, opts ExtractOptions) error {
	var fs *align.FeatureSet
	var err error
	if opts.URL != "" {
		fs, err = align.FetchFeatureSet(ctx, opts.URL)
	} else {
		fs, err = align.ParseFeatureSetFile(opts.Path)
	}
	if err != nil {
		return err
	}
	if opts.Session != "" {
		fs.Session = opts.Session
	}

	cc := a.Config.Correlator
	if opts.MaxClustersSet {
		cc.MaxClusters = opts.MaxClusters
	}
	if opts.StopStrengthSet {
		cc.StopStrength = opts.StopStrength
	}

	start := time.Now()
	report, c, err := align.RunExtraction(fs, cc)
	if err != nil {
		return err
	}
	if a.Verbose {
		log.Printf("[EXTRACT] %d points, %d mappings, %d clusters in %s",
			report.PointCount, report.MappingCount, len(report.Clusters), time.Since(start).Round(time.Millisecond))
		for _, mp := range c.MappingPoints() {
			n, _ := c.NumberOfPropositions(mp.Name)
			log.Printf("[EXTRACT]   %s: %d propositions", mp.Name, n)
		}
	}

	if opts.Record {
		if a.Config.HistoryDB == "" {
			return fmt.Errorf("--record needs historyDb in the config")
		}
		if err := a.openHistory(); err != nil {
			return err
		}
		if err := a.History.SaveReport(ctx, report); err != nil {
			return err
		}
		log.Printf("[STORE] Recorded run %s", report.RunID)
	}

	w := a.Out
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	if err := writeReport(w, opts.Format, fs, report); err != nil {
		return err
	}
	if opts.Output != "" {
		fmt.Fprintf(a.Out, "Saved %s output to %s\n", opts.Format, opts.Output)
	}
	return nil
}

// writeReport writes r over fs in one of the extract formats
func writeReport(w io.Writer, format string, fs *align.FeatureSet, r *align.Report) error {
	switch format {
	case "text":
		return align.FormatReport(w, r)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "geojson":
		return json.NewEncoder(w).Encode(align.ReportToFeatureCollection(fs, r, align.DefaultInlierRadius))
	case "svg":
		return align.NewVectorRenderer(fs, r).RenderToSVG(w)
	case "png":
		return align.NewVectorRenderer(fs, r).RenderToPNG(w)
	case "overlay":
		return align.NewOverlayRenderer(fs, r).EncodePNG(w)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// RunInspect prints the propositions of every anchor point. Verbose mode
// dumps the mapping points in full.
func (a *App) RunInspect(path, point string) error {
	fs, err := align.ParseFeatureSetFile(path)
	if err != nil {
		return err
	}
	c, err := align.NewCorrelatorFromFeatureSet(fs, a.Config.Correlator.Params(), a.Config.Correlator.MinStrength)
	if err != nil {
		return err
	}

	found := point == ""
	tw := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	points := c.MappingPoints()
	for _, mp := range points {
		if point != "" && mp.Name != point {
			continue
		}
		found = true

		n, _ := c.NumberOfPropositions(mp.Name)
		fmt.Fprintf(tw, "%s\t(%.3f, %.3f)\t%d correspondences\t%d propositions\n",
			mp.Name, mp.Coords.X, mp.Coords.Y, len(mp.Correspondences), n)
		for j := 0; j < n; j++ {
			p, _ := c.GetProposition(mp.Name, j)
			m := mp.Mappings[j]
			fmt.Fprintf(tw, "  [%d]\twith %s\tstrength=%.3f\ttranslation=(%.3f, %.3f)\trotation=%.3f°\tscale=%.4f\n",
				j, points[m.Points[1]].Name, m.Strength,
				p.Translation.X, p.Translation.Y, p.RotationDeg(), p.Scale)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("point %q: %w", point, align.ErrPointNotFound)
	}

	if a.Verbose {
		cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}
		for _, mp := range points {
			if point == "" || mp.Name == point {
				cfg.Fdump(a.Out, mp)
			}
		}
	}
	return nil
}

// RunServe runs MQTT and/or HTTP until ctx is cancelled or an interrupt arrives
func (a *App) RunServe(ctx context.Context, opts ServeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintln(a.Out, "Starting meshalign service...")

	if a.Config.ReportCache != "" {
		a.State = align.NewStateTrackerWithCache(a.Config.ReportCache)
		log.Printf("Report cache: %s", a.Config.ReportCache)
	}
	if err := a.openHistory(); err != nil {
		return err
	}

	var recorder align.ReportRecorder
	if a.History != nil {
		recorder = a.History
	}
	a.Extractor = align.NewExtractor(a.Config, a.State, nil, recorder)

	if opts.MQTT {
		client, err := align.InitMQTT(a.Config, a.Extractor.HandleMessage)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if client == nil {
			return fmt.Errorf("MQTT broker not configured")
		}
		a.MQTTClient = client
		a.Publisher = align.NewPublisher(client.GetClient(), a.Config.MQTT.PublishPrefix)
		a.Extractor.SetPublisher(a.Publisher)
	}

	var srv *http.Server
	if opts.HTTP {
		srv = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", opts.HTTPPort),
			Handler:           newHTTPServer(a.State, a.Extractor, a.historyReader()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
			}
		}()
	}

	a.printServiceInfo(opts)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo(opts ServeOptions) {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if opts.MQTT && a.Publisher != nil {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintln(a.Out, "  Subscribed topics:")
		for _, s := range a.Config.Sessions {
			if s.Topic != "" {
				fmt.Fprintf(a.Out, "    - %s (%s)\n", s.Topic, s.ID)
			}
		}
		fmt.Fprintf(a.Out, "  Publishing to: %s/{session}/clusters and %s/{session}/best\n",
			a.Publisher.Prefix(), a.Publisher.Prefix())
	}

	if opts.HTTP {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", opts.HTTPPort)
		fmt.Fprintln(a.Out, "  GET  /health                  - Health check")
		fmt.Fprintln(a.Out, "  GET  /sessions                - Known sessions")
		fmt.Fprintln(a.Out, "  GET  /sessions/{id}/report    - Latest report (?format=text)")
		fmt.Fprintln(a.Out, "  GET  /sessions/{id}/geojson   - Latest report as GeoJSON")
		fmt.Fprintln(a.Out, "  GET  /sessions/{id}/render.svg - Vector overlay")
		fmt.Fprintln(a.Out, "  GET  /sessions/{id}/render.png - Raster overlay")
		fmt.Fprintln(a.Out, "  POST /sessions/{id}/fetch     - Fetch from apiUrl and extract")
		fmt.Fprintln(a.Out, "  POST /extract                 - Extract an uploaded feature set")
		if a.History != nil {
			fmt.Fprintln(a.Out, "  GET  /history                 - Past runs")
			fmt.Fprintln(a.Out, "  GET  /history/{runID}         - One past run")
		}
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}

// RunHistory lists, shows or prunes recorded runs
func (a *App) RunHistory(ctx context.Context, opts HistoryOptions) error {
	if a.Config.HistoryDB == "" {
		return fmt.Errorf("no historyDb configured")
	}
	if err := a.openHistory(); err != nil {
		return err
	}

	if opts.Keep >= 0 {
		if opts.Session == "" {
			return fmt.Errorf("--prune needs a session")
		}
		n, err := a.History.Prune(ctx, opts.Session, opts.Keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Pruned %d runs of %s\n", n, opts.Session)
		return nil
	}

	if opts.RunID != "" {
		r, err := a.History.LoadRun(ctx, opts.RunID)
		if err != nil {
			return err
		}
		if opts.JSON {
			return writeReport(a.Out, "json", nil, r)
		}
		return align.FormatReport(a.Out, r)
	}

	runs, err := a.History.ListRuns(ctx, opts.Session, opts.Limit)
	if err != nil {
		return err
	}
	if opts.JSON {
		if runs == nil {
			runs = []store.RunSummary{}
		}
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	tw := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSESSION\tCREATED\tPOINTS\tMAPPINGS\tCLUSTERS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
			r.RunID, r.Session, r.CreatedAt.Format(time.RFC3339), r.PointCount, r.MappingCount, r.ClusterCount)
	}
	return tw.Flush()
}
