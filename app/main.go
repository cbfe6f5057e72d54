package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/seawatch/reportd/app/guard"
	"github.com/seawatch/reportd/app/health"
	"github.com/seawatch/reportd/app/janitor"
	"github.com/seawatch/reportd/app/notify"
	"github.com/seawatch/reportd/app/pool"
	"github.com/seawatch/reportd/app/report/charts"
	"github.com/seawatch/reportd/app/server"
	"github.com/seawatch/reportd/app/server/persistence"
)

var opts struct {
	Host string `long:"host" env:"FLASK_HOST" default:"0.0.0.0" description:"bind address"`
	Port int    `long:"port" env:"FLASK_PORT" default:"5000" description:"bind port"`
	Mode string `long:"mode" env:"FLASK_ENV" default:"production" choice:"development" choice:"production" description:"runtime mode"`

	TempDir   string `long:"temp-dir" env:"REPORTD_TEMP_DIR" default:"temp" description:"chart workspace directory"`
	OutputDir string `long:"output-dir" env:"REPORTD_OUTPUT_DIR" default:"output" description:"generated PDF directory"`
	LogsDir   string `long:"logs-dir" env:"REPORTD_LOGS_DIR" default:"logs" description:"log and history directory"`

	MaxBodySize     int64   `long:"max-body" env:"MAX_CONTENT_LENGTH" default:"16777216" description:"request body limit, bytes"`
	MaxObservations int     `long:"max-observations" env:"MAX_OBSERVATIONS" default:"10000" description:"observations accepted per request"`
	RateLimit       float64 `long:"rate-limit" env:"REPORTD_RATE_LIMIT" default:"0" description:"generation requests per second, 0 to disable"`

	Workers int           `long:"workers" env:"WEB_CONCURRENCY" default:"4" description:"report worker count"`
	Timeout time.Duration `long:"timeout" env:"REPORTD_TIMEOUT" default:"120s" description:"per-report generation deadline"`

	Style string `long:"style" env:"REPORTD_STYLE" description:"chart style YAML file"`
	DB    string `long:"db" env:"REPORTD_DB" default:"" description:"report history sqlite path, defaults to <logs-dir>/reportd.db"`

	Guard struct {
		MaxMemory int `long:"max-memory" env:"MAX_MEMORY" default:"0" description:"reject generation at this memory usage percent, 0 to disable"`
		MaxCPU    int `long:"max-cpu" env:"MAX_CPU" default:"0" description:"reject generation at this CPU usage percent, 0 to disable"`
	} `group:"guard" namespace:"guard" env-namespace:"REPORTD_GUARD"`

	Health struct {
		Interval time.Duration `long:"interval" env:"INTERVAL" default:"30s" description:"probe interval"`
		Timeout  time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"probe timeout"`
		Grace    time.Duration `long:"grace" env:"GRACE" default:"5s" description:"startup grace before the first probe"`
		Retries  int           `long:"retries" env:"RETRIES" default:"3" description:"consecutive failures tolerated"`
	} `group:"health" namespace:"health" env-namespace:"REPORTD_HEALTH"`

	Janitor struct {
		Schedule     string        `long:"schedule" env:"SCHEDULE" default:"@every 1h" description:"cleanup schedule"`
		MaxAge       time.Duration `long:"max-age" env:"MAX_AGE" default:"24h" description:"working file retention"`
		HistoryLimit int           `long:"history-limit" env:"HISTORY_LIMIT" default:"1000" description:"report history rows to keep"`
	} `group:"janitor" namespace:"janitor" env-namespace:"REPORTD_JANITOR"`

	Notify struct {
		Webhooks []string      `long:"webhook" env:"WEBHOOKS" env-delim:"," description:"webhook destination(s) for failure alerts"`
		Timeout  time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"webhook delivery timeout"`
	} `group:"notify" namespace:"notify" env-namespace:"REPORTD_NOTIFY"`

	Auth struct {
		PasswordHash string `long:"password-hash" env:"PASSWORD_HASH" description:"bcrypt hash protecting status and history endpoints"`
	} `group:"auth" namespace:"auth" env-namespace:"REPORTD_AUTH"`

	Log struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable rotating log file"`
		File       string `long:"file" env:"FILE" default:"" description:"log file path, defaults to <logs-dir>/reportd.log"`
		MaxSize    int    `long:"max-size" env:"MAX_SIZE" default:"10" description:"max log file size, megabytes"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"rotated files to keep"`
	} `group:"log" namespace:"log" env-namespace:"REPORTD_LOG"`

	HealthCheck bool `long:"healthcheck" description:"run one-shot health probe against the local server and exit"`
	Dbg         bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}

	if opts.HealthCheck {
		// container HEALTHCHECK entry, single probe with exit code as the verdict
		url := fmt.Sprintf("http://127.0.0.1:%d/", opts.Port)
		if err := health.Check(url, opts.Health.Timeout); err != nil {
			fmt.Fprintf(os.Stderr, "unhealthy: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("healthy")
		os.Exit(0)
	}

	fmt.Printf("reportd %s\n", revision)
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	for _, dir := range []string{opts.TempDir, opts.OutputDir, opts.LogsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Fatalf("[ERROR] failed to create directory %s, %v", dir, err)
		}
	}

	if err := run(ctx); err != nil {
		log.Fatalf("[ERROR] reportd failed, %v", err)
	}
}

func run(ctx context.Context) error {
	dbPath := opts.DB
	if dbPath == "" {
		dbPath = opts.LogsDir + "/reportd.db"
	}
	store, err := persistence.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open report history store: %w", err)
	}
	defer func() {
		if e := store.Close(); e != nil {
			log.Printf("[WARN] failed to close report history store: %v", e)
		}
	}()

	chartStyle := charts.DefaultStyle()
	if opts.Style != "" {
		if chartStyle, err = charts.LoadStyle(opts.Style); err != nil {
			return fmt.Errorf("failed to load chart style: %w", err)
		}
		log.Printf("[INFO] chart style loaded from %s", opts.Style)
	}

	workers := pool.New(opts.Workers, opts.Timeout)
	workers.Run(ctx)

	prober := health.New(health.Config{
		URL:      fmt.Sprintf("http://127.0.0.1:%d/", opts.Port),
		Interval: opts.Health.Interval,
		Timeout:  opts.Health.Timeout,
		Grace:    opts.Health.Grace,
		Retries:  opts.Health.Retries,
	})
	go prober.Run(ctx)

	cleaner := &janitor.Janitor{
		Dirs:         []string{opts.TempDir, opts.OutputDir},
		MaxAge:       opts.Janitor.MaxAge,
		Schedule:     opts.Janitor.Schedule,
		HistoryLimit: opts.Janitor.HistoryLimit,
		Store:        store,
	}
	go func() {
		if e := cleaner.Run(ctx); e != nil {
			log.Printf("[WARN] janitor failed to start: %v", e)
		}
	}()

	srvConfig := server.Config{
		Version:         revision,
		TempDir:         opts.TempDir,
		OutputDir:       opts.OutputDir,
		MaxObservations: opts.MaxObservations,
		MaxBodySize:     opts.MaxBodySize,
		RequestTimeout:  opts.Timeout,
		RateLimit:       opts.RateLimit,
		AuthHash:        opts.Auth.PasswordHash,
		ChartStyle:      chartStyle,
		Pool:            workers,
		Store:           store,
		Health:          prober,
		Guard:           guard.Limits{MemoryBelow: opts.Guard.MaxMemory, CPUBelow: opts.Guard.MaxCPU},
	}
	if alerts := notify.New(opts.Notify.Webhooks, opts.Notify.Timeout); alerts != nil {
		srvConfig.Notifier = alerts
		log.Printf("[INFO] failure alerts enabled for %d webhook(s)", len(opts.Notify.Webhooks))
	}

	srv, err := server.New(srvConfig)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Run(ctx, fmt.Sprintf("%s:%d", opts.Host, opts.Port))
}

// setupLogs configures lgr, always stdout/stderr for container log
// collection plus a rotating file when enabled. Returns the output writer.
func setupLogs() io.Writer {
	logOpts := []log.Option{log.Msec, log.LevelBraces}
	if opts.Dbg || opts.Mode == "development" {
		logOpts = []log.Option{log.Debug, log.Msec, log.LevelBraces, log.CallerFunc, log.CallerPkg, log.CallerFile}
	}

	if !opts.Log.Enabled {
		log.Setup(logOpts...)
		return os.Stdout
	}

	fileWriter := &lumberjack.Logger{
		Filename:   logFileName(),
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		Compress:   true,
	}
	out := io.MultiWriter(os.Stdout, fileWriter)
	logOpts = append(logOpts, log.Out(out), log.Err(io.MultiWriter(os.Stderr, fileWriter)))
	log.Setup(logOpts...)
	return out
}

// logFileName picks the configured log file, defaulting into the logs dir
func logFileName() string {
	if opts.Log.File != "" {
		return opts.Log.File
	}
	return opts.LogsDir + "/reportd.log"
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] caught %v, shutting down", sig)
			cancel() // terminate on SIGINT/SIGTERM
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
}
