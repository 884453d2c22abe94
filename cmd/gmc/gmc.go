// Command gmc downloads the history buffer of a GQ GMC-300 series Geiger
// counter, decodes it into per-second counts and reports on them.
//
//	gmc [flags] [alldata]
//	gmc -db radiation.db migrate <up|down|status|force N|help>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/radiation.report/internal/api"
	"github.com/banshee-data/radiation.report/internal/config"
	"github.com/banshee-data/radiation.report/internal/db"
	"github.com/banshee-data/radiation.report/internal/decoder"
	"github.com/banshee-data/radiation.report/internal/eventlog"
	"github.com/banshee-data/radiation.report/internal/fsutil"
	"github.com/banshee-data/radiation.report/internal/gmc"
	"github.com/banshee-data/radiation.report/internal/monitoring"
	"github.com/banshee-data/radiation.report/internal/report"
	"github.com/banshee-data/radiation.report/internal/serialport"
	"github.com/banshee-data/radiation.report/internal/timeutil"
	"github.com/banshee-data/radiation.report/internal/version"
)

// Exit statuses.
const (
	exitOK       = 0
	exitLink     = 1
	exitDateSync = 2
	exitUsage    = 3
	exitPort     = 4
	exitIdentity = 5
	exitBattery  = 6
	exitInternal = 7 // storage, output or other local failure
	exitStopped  = 8 // interrupted by a signal
)

// devHistory is how many seconds of readings the -dev simulator holds.
const devHistory = 2 * 3600

// usageError marks bad command-line arguments.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, v ...interface{}) error {
	return usageError{fmt.Sprintf(format, v...)}
}

type options struct {
	configPath string
	port       string
	dev        bool
	rawIn      string
	rawOut     string
	png        string
	html       string
	dbPath     string
	listen     string
	debug      bool
	version    bool
	allData    bool

	// positional
	migrate []string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("gmc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to a JSON config file (defaults are built in)")
	fs.StringVar(&o.port, "port", "", "Serial port of the counter")
	fs.BoolVar(&o.dev, "dev", false, "Talk to a simulated counter instead of a serial port")
	fs.StringVar(&o.rawIn, "raw-in", "", "Decode a saved raw dump instead of reading a device")
	fs.StringVar(&o.rawOut, "raw-out", "", "Save the raw history buffer to this path")
	fs.StringVar(&o.png, "png", "", "Write the impulse plot to this path")
	fs.StringVar(&o.html, "html", "", "Write an interactive chart to this path")
	fs.StringVar(&o.dbPath, "db", "", "Store downloads in this sqlite database")
	fs.StringVar(&o.listen, "listen", "", "Serve stored readings on this address (requires -db)")
	fs.BoolVar(&o.debug, "debug", false, "Log every command exchange and decoder sync")
	fs.BoolVar(&o.version, "version", false, "Print the version and exit")
	fs.BoolVar(&o.allData, "alldata", false, "Report the whole buffer, not just today")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return o, err
		}
		return o, usageError{err.Error()}
	}

	rest := fs.Args()
	switch {
	case len(rest) == 0:
	case rest[0] == "alldata" && len(rest) == 1:
		o.allData = true
	case rest[0] == "migrate":
		o.migrate = rest[1:]
	default:
		return o, usagef("unexpected argument %q", rest[0])
	}

	if o.dev && o.rawIn != "" {
		return o, usagef("-dev and -raw-in are mutually exclusive")
	}
	return o, nil
}

// loadConfig reads the config file, if any, and lays the flags over it.
func loadConfig(o options) (*config.Config, error) {
	cfg := config.EmptyConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(o.configPath); err != nil {
			return nil, usageError{err.Error()}
		}
	}
	override := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	override(&cfg.Port, o.port)
	override(&cfg.OutputRaw, o.rawOut)
	override(&cfg.OutputPNG, o.png)
	override(&cfg.OutputHTML, o.html)
	override(&cfg.DBPath, o.dbPath)
	override(&cfg.Listen, o.listen)

	if err := cfg.Validate(); err != nil {
		return nil, usageError{err.Error()}
	}
	if cfg.GetListen() != "" && cfg.GetDBPath() == "" {
		return nil, usagef("-listen requires -db")
	}
	return cfg, nil
}

// environment carries the process's side effects so tests can replace them.
type environment struct {
	stdout, stderr io.Writer
	clock          timeutil.Clock
	fsys           fsutil.FileSystem
	openPort       func(path string, opts serialport.PortOptions) (serialport.Porter, error)
	waitForPort    func(ctx context.Context, path string, interval time.Duration) error
}

func realEnvironment() *environment {
	return &environment{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		clock:       timeutil.RealClock{},
		fsys:        fsutil.OSFileSystem{},
		openPort:    serialport.Open,
		waitForPort: serialport.WaitForPort,
	}
}

func run(ctx context.Context, args []string, env *environment) error {
	o, err := parseFlags(args, env.stderr)
	if err != nil {
		return err
	}
	if o.version {
		fmt.Fprintln(env.stdout, version.String())
		return nil
	}
	monitoring.SetDebug(o.debug)

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	if o.migrate != nil {
		if cfg.GetDBPath() == "" {
			return usagef("migrate requires -db")
		}
		return db.RunMigrateCommand(env.stdout, o.migrate, cfg.GetDBPath())
	}

	loc := cfg.GetLocation()
	raw, info, err := acquire(ctx, o, cfg, env)
	if err != nil {
		return err
	}

	if path := cfg.GetOutputRaw(); path != "" {
		if err := fsutil.SaveDump(env.fsys, path, raw); err != nil {
			return err
		}
		log.Printf("saved raw dump to %s", path)
	}

	history, stats := decoder.Decode(raw, loc)
	log.Printf("decoded %d bytes: %d events, %d timestamps, %d garbage, %d hiccups, %d dropped",
		stats.Bytes, stats.Events, stats.Packets, stats.Garbage, stats.Hiccups, stats.Dropped)

	var store *db.DB
	if path := cfg.GetDBPath(); path != "" {
		if store, err = db.NewDB(path); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		d, err := store.RecordDownload(env.clock.Now(), info, raw, history)
		if err != nil {
			return err
		}
		log.Printf("stored download %s: %d readings, %d new", d.ID, d.Events, d.Inserted)
	}

	if !o.allData {
		history = history.Since(eventlog.StartOfDay(env.clock.Now().In(loc)))
	}
	if history.Empty() {
		fmt.Fprintln(env.stdout, "!--"+report.ErrNoData.Error())
	} else if err := writeReports(history, cfg, loc, env); err != nil {
		return err
	}

	if addr := cfg.GetListen(); addr != "" {
		return serve(ctx, addr, store, loc, env.clock)
	}
	return nil
}

// acquire returns the raw buffer from a dump file, the simulator or the
// real device.
func acquire(ctx context.Context, o options, cfg *config.Config, env *environment) ([]byte, gmc.DeviceInfo, error) {
	memOpts := gmc.MemoryOptions{
		MemSize:   cfg.GetMemSize(),
		ExtraPage: cfg.GetExtraPage(),
		ChunkSize: cfg.GetChunkSize(),
	}

	if o.rawIn != "" {
		raw, err := fsutil.LoadDump(env.fsys, o.rawIn, cfg.GetMemSize())
		if err != nil {
			return nil, gmc.DeviceInfo{}, usageError{err.Error()}
		}
		log.Printf("loaded %d bytes from %s", len(raw), o.rawIn)
		return raw, gmc.DeviceInfo{}, nil
	}

	var port serialport.Porter
	if o.dev {
		now := env.clock.Now()
		rng := rand.New(rand.NewSource(now.UnixNano()))
		start := now.Add(-devHistory * time.Second)
		sim := gmc.NewSimulator(gmc.SyntheticHistory(start, gmc.RandomCounts(rng, devHistory), cfg.GetMemSize(), 300))
		sim.Now = env.clock.Now
		port = sim.Port()
		log.Printf("using simulated device %s", sim.Version)
	} else {
		path := cfg.GetPort()
		if err := env.waitForPort(ctx, path, cfg.GetPortWait()); err != nil {
			return nil, gmc.DeviceInfo{}, err
		}
		var err error
		if port, err = env.openPort(path, cfg.GetPortOptions()); err != nil {
			return nil, gmc.DeviceInfo{}, err
		}
		log.Printf("opened %s (%s)", path, cfg.GetPortOptions())
	}

	link := gmc.NewLink(port, env.clock, gmc.LinkOptions{
		Timeout:     cfg.GetTimeout(),
		SettleDelay: cfg.GetSettleDelay(),
		MaxAttempts: cfg.GetMaxAttempts(),
	})
	defer link.Close()

	device := gmc.NewDevice(link, memOpts, cfg.GetLocation())
	device.Memory().Progress = func(done, total int) {
		fmt.Fprint(env.stderr, ".")
		if done >= total {
			fmt.Fprintln(env.stderr)
		}
	}

	info, raw, err := device.Download(ctx)
	if err != nil {
		return nil, info, err
	}
	log.Printf("%s, battery %.1fV, serial %s, device clock %s",
		info.Version, info.BatteryVolts(), info.Serial, info.DeviceTime.Format(time.DateTime))
	return raw, info, nil
}

func writeReports(history *eventlog.DecodedLog, cfg *config.Config, loc *time.Location, env *environment) error {
	if err := report.PrintSummary(env.stdout, history.Summarize()); err != nil {
		return err
	}

	if path := cfg.GetOutputPNG(); path != "" {
		if err := writeFile(env.fsys, path, func(w io.Writer) error {
			return report.WritePNG(w, history, report.PlotOptions{Location: loc})
		}); err != nil {
			return err
		}
		log.Printf("wrote plot to %s", path)
	}
	if path := cfg.GetOutputHTML(); path != "" {
		if err := writeFile(env.fsys, path, func(w io.Writer) error {
			return report.WriteHTML(w, history, report.ChartOptions{Location: loc})
		}); err != nil {
			return err
		}
		log.Printf("wrote chart to %s", path)
	}
	return nil
}

func writeFile(fsys fsutil.FileSystem, path string, write func(io.Writer) error) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func serve(ctx context.Context, addr string, store *db.DB, loc *time.Location, clock timeutil.Clock) error {
	mux := api.NewServer(store, loc, clock).ServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		return err
	}

	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("serving on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("failed to start server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	log.Print("server stopped")
	return nil
}

// exitCode maps an error from run onto the process exit status. Only a
// device that stopped answering gets exitLink.
func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.As(err, &ue):
		return exitUsage
	case errors.Is(err, serialport.ErrPortUnavailable):
		return exitPort
	case errors.Is(err, gmc.ErrIdentityMismatch):
		return exitIdentity
	case errors.Is(err, gmc.ErrBatteryRange):
		return exitBattery
	case errors.Is(err, gmc.ErrDateSync):
		return exitDateSync
	case errors.Is(err, gmc.ErrLinkExhausted):
		return exitLink
	case errors.Is(err, context.Canceled):
		return exitStopped
	default:
		return exitInternal
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], realEnvironment())
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		var linkErr *gmc.LinkError
		if errors.As(err, &linkErr) && len(linkErr.Got) > 0 {
			log.Printf("received: %s", linkErr.Dump())
		}
		log.Printf("error: %v", err)
	}
	stop()
	os.Exit(exitCode(err))
}
