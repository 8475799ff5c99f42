package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// Rotator writes to one file per day and gzips the previous day's file
type Rotator struct {
	dir         string
	prefix      string
	useUTC      bool
	logger      *logrus.Logger
	clock       func() time.Time
	retainDays  int
	currentFile *os.File
	currentDate string
	mutex       sync.RWMutex
	compressing sync.WaitGroup
}

// RotatorOption configures a Rotator
type RotatorOption func(*Rotator)

// WithClock overrides time.Now, used to decide the file date
func WithClock(clock func() time.Time) RotatorOption {
	return func(r *Rotator) { r.clock = clock }
}

// WithRetention removes files older than days at startup and after every
// rotation. Zero keeps everything.
func WithRetention(days int) RotatorOption {
	return func(r *Rotator) { r.retainDays = days }
}

// NewRotator creates dir if needed and opens today's <prefix>_YYYY-MM-DD.log
func NewRotator(dir, prefix string, useUTC bool, logger *logrus.Logger, opts ...RotatorOption) (*Rotator, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r := &Rotator{
		dir:    dir,
		prefix: prefix,
		useUTC: useUTC,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.mutex.Lock()
	err := r.rotateLocked()
	r.mutex.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}

	r.applyRetention()
	return r, nil
}

// Start checks for a date change every interval until ctx is done
func (r *Rotator) Start(ctx context.Context, interval time.Duration) {
	r.logger.WithField("dir", r.dir).Info("Starting log rotator")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Log rotator stopping")
			return
		case <-ticker.C:
			r.CheckRotation()
		}
	}
}

func (r *Rotator) today() string {
	now := r.clock()
	if r.useUTC {
		now = now.UTC()
	}
	return now.Format(dateLayout)
}

// CheckRotation switches to a new file if the date has changed
func (r *Rotator) CheckRotation() {
	if r.rotateIfDateChanged() {
		r.applyRetention()
	}
}

func (r *Rotator) rotateIfDateChanged() bool {
	date := r.today()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.currentFile == nil || r.currentDate == date {
		return false
	}

	r.logger.WithFields(logrus.Fields{
		"old_date": r.currentDate,
		"new_date": date,
	}).Info("Rotating log file")

	if err := r.rotateLocked(); err != nil {
		r.logger.WithError(err).Error("Failed to rotate log file")
		return false
	}
	return true
}

// applyRetention must run without r.mutex held
func (r *Rotator) applyRetention() {
	if r.retainDays <= 0 {
		return
	}
	if _, err := r.CleanupOldLogs(r.retainDays); err != nil {
		r.logger.WithError(err).Warn("Failed to clean up old log files")
	}
}

func (r *Rotator) rotateLocked() error {
	newDate := r.today()

	if r.currentFile != nil {
		if err := r.currentFile.Close(); err != nil {
			r.logger.WithError(err).Error("Failed to close old log file")
		}

		oldDate := r.currentDate
		r.compressing.Add(1)
		go func() {
			defer r.compressing.Done()
			r.compress(oldDate)
		}()
	}

	path := r.pathFor(newDate)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file %s: %w", path, err)
	}

	r.currentFile = file
	r.currentDate = newDate

	r.logger.WithField("file", path).Info("Created new log file")
	return nil
}

func (r *Rotator) pathFor(date string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s.log", r.prefix, date))
}

// compress gzips a finished day file and removes the original
func (r *Rotator) compress(date string) {
	logFile := r.pathFor(date)
	gzipFile := logFile + ".gz"

	r.logger.WithFields(logrus.Fields{
		"source": logFile,
		"target": gzipFile,
	}).Info("Compressing log file")

	src, err := os.Open(logFile)
	if os.IsNotExist(err) {
		r.logger.WithField("file", logFile).Debug("Log file doesn't exist, skipping compression")
		return
	}
	if err != nil {
		r.logger.WithError(err).WithField("file", logFile).Error("Failed to open source file for compression")
		return
	}
	defer src.Close()

	dst, err := os.Create(gzipFile)
	if err != nil {
		r.logger.WithError(err).WithField("file", gzipFile).Error("Failed to create compressed file")
		return
	}
	defer dst.Close()

	gzWriter := gzip.NewWriter(dst)
	gzWriter.Name = filepath.Base(logFile)
	gzWriter.ModTime = r.clock()

	if _, err := io.Copy(gzWriter, src); err != nil {
		r.logger.WithError(err).Error("Failed to compress log file")
		return
	}
	if err := gzWriter.Close(); err != nil {
		r.logger.WithError(err).Error("Failed to close gzip writer")
		return
	}
	if err := dst.Close(); err != nil {
		r.logger.WithError(err).Error("Failed to close compressed file")
		return
	}

	if err := os.Remove(logFile); err != nil {
		r.logger.WithError(err).WithField("file", logFile).Error("Failed to remove original log file")
		return
	}

	r.logger.WithField("file", gzipFile).Info("Log file compressed successfully")
}

// Write appends p to the current day's file
func (r *Rotator) Write(p []byte) (int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.currentFile == nil {
		return 0, fmt.Errorf("log rotator is closed")
	}
	return r.currentFile.Write(p)
}

// CurrentFile returns the path being written, empty after Close
func (r *Rotator) CurrentFile() string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.currentFile == nil {
		return ""
	}
	return r.pathFor(r.currentDate)
}

// Files lists plain and compressed files of this rotator
func (r *Rotator) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, r.prefix+"_*.log*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return files, nil
}

// CleanupOldLogs removes files last modified more than maxDays ago
func (r *Rotator) CleanupOldLogs(maxDays int) (int, error) {
	if maxDays <= 0 {
		return 0, fmt.Errorf("maxDays must be positive")
	}

	files, err := r.Files()
	if err != nil {
		return 0, err
	}

	cutoff := r.clock().AddDate(0, 0, -maxDays)
	current := r.CurrentFile()

	removed := 0
	for _, file := range files {
		if file == current {
			continue
		}

		info, err := os.Stat(file)
		if err != nil {
			r.logger.WithError(err).WithField("file", file).Warn("Failed to stat log file")
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(file); err != nil {
				r.logger.WithError(err).WithField("file", file).Error("Failed to remove old log file")
				continue
			}
			r.logger.WithField("file", file).Info("Removed old log file")
			removed++
		}
	}

	r.logger.WithField("count", removed).Info("Cleaned up old log files")
	return removed, nil
}

// Close closes the current file and waits for pending compression
func (r *Rotator) Close() error {
	r.mutex.Lock()
	var err error
	if r.currentFile != nil {
		err = r.currentFile.Close()
		r.currentFile = nil
	}
	r.mutex.Unlock()

	r.compressing.Wait()

	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}
