package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ssrmixer/internal/adsb"
	"ssrmixer/internal/basestation"
	"ssrmixer/internal/feed"
	"ssrmixer/internal/logging"
	"ssrmixer/internal/publish"
	"ssrmixer/internal/storage"
	"ssrmixer/internal/tracker"
)

const (
	shutdownTimeout  = 5 * time.Second
	rotationInterval = time.Minute
	sbsFilePrefix    = "sbs"
)

// Application represents the main application
type Application struct {
	config    Config
	logger    *logrus.Logger
	logCloser io.Closer
	stdout    io.Writer
	stderr    io.Writer
	clock     func() time.Time

	decoder *adsb.Decoder
	tracker *tracker.Tracker

	// sinksMu guards the sinks below; feed handlers can outlive the
	// shutdown timeout
	sinksMu   sync.RWMutex
	rotator   *logging.Rotator
	sbs       *basestation.Writer
	db        *storage.DB
	publisher *publish.Publisher

	servers []*feed.Server
	client  *feed.Client

	sbsLines   atomic.Uint64
	stored     atomic.Uint64
	published  atomic.Uint64
	sinkErrors atomic.Uint64
}

// NewApplication creates a new application instance
func NewApplication(config Config) *Application {
	logger := logrus.New()
	if config.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	return &Application{
		config: config,
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
		clock:  time.Now,
	}
}

// Start runs the application until SIGINT or SIGTERM
func (app *Application) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}

// Run initializes every component and processes feeds until ctx is done
func (app *Application) Run(ctx context.Context) error {
	if err := app.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		app.closeComponents()
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	}).Info("Starting Mode S decoder")

	err := app.run(ctx)
	app.shutdown()
	return err
}

// initializeComponents builds the decoder pipeline and binds listeners
func (app *Application) initializeComponents() error {
	logger, closer, err := logging.NewLogger(logging.Options{
		Verbose: app.config.Verbose,
		Format:  app.config.LogFormat,
		File:    app.config.LogFile,
	}, app.stderr)
	if err != nil {
		return err
	}
	app.logger = logger
	app.logCloser = closer

	cache, err := adsb.NewICAOCache(app.config.CacheSize, app.config.CacheTTL)
	if err != nil {
		return err
	}
	app.decoder = adsb.NewDecoder(cache, adsb.Options{
		FixErrors:  app.config.FixErrors,
		Aggressive: app.config.Aggressive,
		Clock:      app.clock,
	}, app.logger)

	app.tracker = tracker.New(app.config.TrackerSize, app.config.TrackerTTL, app.logger)

	var sbsOut []io.Writer
	if app.config.SBSEnabled {
		app.rotator, err = logging.NewRotator(app.config.LogDir, sbsFilePrefix, app.config.LogRotateUTC, app.logger,
			logging.WithClock(app.clock), logging.WithRetention(app.config.SBSRetentionDays))
		if err != nil {
			return fmt.Errorf("failed to initialize log rotator: %w", err)
		}
		sbsOut = append(sbsOut, app.rotator)
	}
	if app.config.SBSStdout {
		sbsOut = append(sbsOut, app.stdout)
	}
	if len(sbsOut) > 0 {
		app.sbs = basestation.NewWriter(io.MultiWriter(sbsOut...), app.tracker, app.logger)
	}

	if app.config.DBPath != "" {
		app.db, err = storage.Open(app.config.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open message store: %w", err)
		}
		app.logger.WithField("path", app.config.DBPath).Info("Message store opened")
	}

	if app.config.NATSURL != "" {
		app.publisher, err = publish.Connect(app.config.NATSURL, app.config.NATSSubject, app.config.NATSEncoding, app.logger)
		if err != nil {
			return err
		}
	}

	listeners := []struct {
		addr   string
		format feed.Format
	}{
		{app.config.ListenAVR, feed.FormatAVR},
		{app.config.ListenBeast, feed.FormatBeast},
	}
	for _, l := range listeners {
		if l.addr == "" {
			continue
		}
		server := feed.NewServer(l.addr, l.format, app, app.logger)
		if err := server.Listen(); err != nil {
			return err
		}
		app.servers = append(app.servers, server)
	}

	if app.config.Connect != "" {
		format, err := feed.ParseFormat(app.config.ConnectFormat)
		if err != nil {
			return err
		}
		app.client = feed.NewClient(app.config.Connect, format, app, app.logger, app.config.ReconnectDelay)
	}

	return nil
}

// run starts every component and waits for them to stop
func (app *Application) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, server := range app.servers {
		server := server
		g.Go(func() error {
			return server.Serve(gctx)
		})
	}

	if app.client != nil {
		g.Go(func() error {
			return app.client.Run(gctx)
		})
	}

	if app.rotator != nil {
		g.Go(func() error {
			app.rotator.Start(gctx, rotationInterval)
			return nil
		})
	}

	if app.config.StatsInterval > 0 {
		g.Go(func() error {
			app.reportStatistics(gctx, app.config.StatsInterval)
			return nil
		})
	}

	app.logger.Info("All components started successfully")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	app.logger.Info("Received shutdown signal")
	select {
	case err := <-done:
		app.logger.Info("All goroutines finished")
		return err
	case <-time.After(shutdownTimeout):
		app.logger.Warn("Shutdown timeout, forcing exit")
		return nil
	}
}

// HandleHex decodes one AVR line from a feed
func (app *Application) HandleHex(line string) {
	mm, err := app.decoder.DecodeHex(line)
	if err != nil {
		app.logger.WithError(err).WithField("line", line).Debug("Discarding malformed frame")
		return
	}
	app.dispatch(mm)
}

// HandleFrame decodes one binary Mode S frame from a feed
func (app *Application) HandleFrame(data []byte, mlat uint64, _ byte) {
	mm, err := app.decoder.DecodeFrame(data)
	if err != nil {
		app.logger.WithError(err).Debug("Discarding malformed frame")
		return
	}
	mm.MLAT = mlat
	app.dispatch(mm)
}

// dispatch hands a decoded message to every configured sink. Only
// checksum-valid messages reach the tracker, SBS output and NATS; the
// store keeps everything.
func (app *Application) dispatch(mm *adsb.Message) {
	now := app.clock()

	app.sinksMu.RLock()
	defer app.sinksMu.RUnlock()

	if mm.CRCOK {
		app.tracker.Update(mm, now)

		if app.sbs != nil {
			err := app.sbs.WriteMessage(mm, now)
			switch {
			case err == nil:
				app.sbsLines.Add(1)
			case errors.Is(err, basestation.ErrNotSupported):
			default:
				app.sinkError(err, "Failed to write SBS message")
			}
		}

		if app.publisher != nil {
			if err := app.publisher.Publish(mm, now); err != nil {
				app.sinkError(err, "Failed to publish message")
			} else {
				app.published.Add(1)
			}
		}
	}

	if app.db != nil {
		if _, err := app.db.Insert(mm, now); err != nil {
			app.sinkError(err, "Failed to store message")
		} else {
			app.stored.Add(1)
		}
	}
}

func (app *Application) sinkError(err error, msg string) {
	app.sinkErrors.Add(1)
	app.logger.WithError(err).Warn(msg)
}

// reportStatistics reports processing statistics periodically
func (app *Application) reportStatistics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.logStatistics()
		}
	}
}

func (app *Application) logStatistics() {
	s := app.decoder.Stats()

	successRate := "n/a"
	if s.Frames > 0 {
		successRate = fmt.Sprintf("%.2f%%", float64(s.Valid)/float64(s.Frames)*100)
	}

	app.logger.WithFields(logrus.Fields{
		"frames":           s.Frames,
		"malformed":        s.Malformed,
		"valid":            s.Valid,
		"invalid":          s.Invalid,
		"single_bit_fixes": s.SingleBitFix,
		"two_bit_fixes":    s.TwoBitFix,
		"ap_recovered":     s.APRecovered,
		"cache_inserted":   s.CacheInserted,
		"aircraft":         app.tracker.Len(),
		"sbs_lines":        app.sbsLines.Load(),
		"stored":           app.stored.Load(),
		"published":        app.published.Load(),
		"sink_errors":      app.sinkErrors.Load(),
		"success_rate":     successRate,
	}).Info("Mode S decoding statistics")
}

// shutdown releases every component
func (app *Application) shutdown() {
	app.logger.Info("Shutting down application")
	if app.decoder != nil {
		app.logStatistics()
	}
	app.closeComponents()
}

func (app *Application) closeComponents() {
	app.sinksMu.Lock()
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to drain NATS connection")
		}
		app.publisher = nil
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close message store")
		}
		app.db = nil
	}
	if app.rotator != nil {
		if err := app.rotator.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close log rotator")
		}
		app.rotator = nil
	}
	app.sbs = nil
	app.sinksMu.Unlock()

	for _, server := range app.servers {
		server.Close()
	}

	app.logger.Info("Shutdown completed")

	if app.logCloser != nil {
		app.logCloser.Close()
		app.logCloser = nil
	}
}
