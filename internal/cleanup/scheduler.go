package cleanup

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/audio-relay/internal/storage"
)

// Sweeper periodically evicts expired registry entries and removes stray
// working files nobody references.
type Sweeper struct {
	registry        *storage.Registry
	tempDir         string
	interval        time.Duration
	strayFileMaxAge time.Duration
	now             func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// Report summarizes one sweep.
type Report struct {
	storage.SweepResult
	StrayFiles int
	FreedBytes int64
}

func NewSweeper(registry *storage.Registry, tempDir string, interval, strayFileMaxAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{
		registry:        registry,
		tempDir:         tempDir,
		interval:        interval,
		strayFileMaxAge: strayFileMaxAge,
		now:             time.Now,
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Start runs one sweep immediately and then one per interval.
func (s *Sweeper) Start() {
	logrus.Info("Running initial expiration sweep...")
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	logrus.Infof("Expiration sweeper started (interval: %s, stray file max age: %s)", s.interval, s.strayFileMaxAge)
}

// Stop ends the periodic loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		logrus.Info("Expiration sweeper stopped")
	})
}

// Sweep evicts expired entries and stray files once.
func (s *Sweeper) Sweep() Report {
	report := Report{SweepResult: s.registry.Sweep()}
	if s.strayFileMaxAge > 0 {
		report.StrayFiles, report.FreedBytes = s.removeStrayFiles()
	}

	if report.Resources+report.Tasks+report.Transcripts+report.StrayFiles > 0 {
		logrus.Infof("Sweep complete: %d resources, %d tasks, %d transcripts, %d stray files (%.2fMB freed)",
			report.Resources, report.Tasks, report.Transcripts, report.StrayFiles,
			float64(report.FreedBytes)/(1024*1024))
	}
	return report
}

// removeStrayFiles deletes old files in the temp dir that no live resource
// or in-flight task owns.
func (s *Sweeper) removeStrayFiles() (int, int64) {
	now := s.now()
	live := s.registry.Resources.Paths()

	var count int
	var freed int64
	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if live[filepath.Clean(path)] || s.ownedByActiveTask(info.Name()) {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age <= s.strayFileMaxAge {
			return nil
		}
		size := info.Size()
		if err := os.Remove(path); err != nil {
			logrus.Warnf("Failed to delete stray file %s: %v", path, err)
			return nil
		}
		count++
		freed += size
		logrus.Debugf("Deleted stray file: %s (age: %s, size: %dKB)", filepath.Base(path), age.Round(time.Minute), size/1024)
		return nil
	})
	if err != nil {
		logrus.Errorf("Error walking %s: %v", s.tempDir, err)
	}
	return count, freed
}

// taskIDLen is the length of the uuid every working file name starts with.
const taskIDLen = 36

func (s *Sweeper) ownedByActiveTask(name string) bool {
	if len(name) < taskIDLen {
		return false
	}
	task, err := s.registry.Tasks.Get(name[:taskIDLen])
	return err == nil && !task.Status.IsTerminal()
}
