package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const minTickerTime = time.Second / 60

// Progress accumulates the counters of the run in flight and reports them
// periodically through OnUpdate.
type Progress struct {
	OnStart   func()
	OnUpdate  ProgressFunc
	OnDone    ProgressFunc
	funcMutex sync.Mutex

	currentStat  Stat
	currentMutex sync.Mutex
	startTime    time.Time
	ticker       *time.Ticker
	cancel       chan struct{}
	once         sync.Once
	duration     time.Duration
	lastUpdate   time.Time

	running bool
}

// Stat holds the counters of one run.
type Stat struct {
	Total     uint64 `json:"total"`
	Devices   uint64 `json:"devices"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Bytes     uint64 `json:"bytes"`
}

type ProgressFunc func(s Stat, runtime time.Duration, ticker bool)

func NewProgress(d time.Duration) *Progress {
	return &Progress{duration: d}
}

// Start resets and runs the progress reporter for a run of total devices.
func (p *Progress) Start(total int) {
	if p == nil {
		return
	}
	p.currentMutex.Lock()
	if p.running {
		p.currentMutex.Unlock()
		return
	}
	p.once = sync.Once{}
	p.cancel = make(chan struct{})
	p.running = true
	p.currentStat = Stat{Total: uint64(total)}
	p.startTime = time.Now()
	p.lastUpdate = time.Time{}
	p.ticker = time.NewTicker(p.duration)
	ticker, cancel := p.ticker, p.cancel
	p.currentMutex.Unlock()

	if p.OnStart != nil {
		p.OnStart()
	}
	go p.reporter(ticker, cancel)
}

func (p *Progress) updateProgress(current Stat, runtime time.Duration, ticker bool) {
	if p.OnUpdate == nil {
		return
	}

	p.funcMutex.Lock()
	p.OnUpdate(current, runtime, ticker)
	p.funcMutex.Unlock()
}

func (p *Progress) reporter(ticker *time.Ticker, cancel chan struct{}) {
	for {
		select {
		case <-ticker.C:
			current, runtime, ok := p.Current()
			if ok {
				p.updateProgress(current, runtime, true)
			}
		case <-cancel:
			ticker.Stop()
			return
		}
	}
}

// Report adds s to the current counters. Reports outside a run are dropped.
func (p *Progress) Report(s Stat) {
	if p == nil {
		return
	}

	p.currentMutex.Lock()
	if !p.running {
		p.currentMutex.Unlock()
		return
	}
	p.currentStat.Add(s)
	current := p.currentStat
	runtime := time.Since(p.startTime)
	needUpdate := false
	if time.Since(p.lastUpdate) > minTickerTime {
		p.lastUpdate = time.Now()
		needUpdate = true
	}
	p.currentMutex.Unlock()

	if needUpdate {
		p.updateProgress(current, runtime, false)
	}
}

// Current returns the counters and runtime of the run in flight. ok is
// false when no run is in progress.
func (p *Progress) Current() (s Stat, runtime time.Duration, ok bool) {
	if p == nil {
		return Stat{}, 0, false
	}
	p.currentMutex.Lock()
	defer p.currentMutex.Unlock()
	if !p.running {
		return Stat{}, 0, false
	}
	return p.currentStat, time.Since(p.startTime), true
}

func (p *Progress) Done() {
	if p == nil {
		return
	}
	p.currentMutex.Lock()
	if !p.running {
		p.currentMutex.Unlock()
		return
	}
	p.running = false
	p.once.Do(func() {
		close(p.cancel)
	})
	cur := p.currentStat
	runtime := time.Since(p.startTime)
	p.currentMutex.Unlock()

	if p.OnDone != nil {
		p.funcMutex.Lock()
		p.OnDone(cur, runtime, false)
		p.funcMutex.Unlock()
	}
}

// Add accumulates other into s. Total is not summed.
func (s *Stat) Add(other Stat) {
	s.Devices += other.Devices
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Bytes += other.Bytes
}

func (s Stat) String() string {
	return fmt.Sprintf("Stat(%d/%d devices, %d succeeded, %d failed, %s)",
		s.Devices, s.Total, s.Succeeded, s.Failed, humanize.IBytes(s.Bytes))
}
