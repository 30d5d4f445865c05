package upload

import (
	"sync"
	"time"
)

// progressCeiling is the highest value reported before the metadata row is stored.
const progressCeiling = 90

// progressTracker reports monotonically increasing progress and never goes
// past progressCeiling until complete is called.
type progressTracker struct {
	mu     sync.Mutex
	report func(int)
	last   int
}

func newProgressTracker(report func(int)) *progressTracker {
	if report == nil {
		report = func(int) {}
	}
	return &progressTracker{report: report, last: -1}
}

func (p *progressTracker) set(v int) {
	if v > progressCeiling {
		v = progressCeiling
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if v <= p.last {
		return
	}
	p.last = v
	p.report(v)
}

// bytesWritten converts a written byte count of a total into a capped percentage.
func (p *progressTracker) bytesWritten(written, total int64) {
	if total <= 0 {
		return
	}
	p.set(int(written * progressCeiling / total))
}

func (p *progressTracker) complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = 100
	p.report(100)
}

// synthesize advances progress linearly every interval until stop is called.
// It is used for object stores that do not report written bytes.
func (p *progressTracker) synthesize(interval time.Duration, step int) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		v := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				v += step
				p.set(v)
				if v >= progressCeiling {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}
