package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/config"
	"github.com/kozaktomas/facepic/internal/detector"
)

// maxLastErrors bounds the error messages kept for the exit summary.
const maxLastErrors = 10

// Summary is the outcome of an ingestion run.
type Summary struct {
	Queued     int
	Skipped    int
	Succeeded  int
	Failed     int
	LastErrors []string
}

// hostStats abstracts gopsutil so pool scaling is testable.
type hostStats interface {
	MemoryPercent() (float64, error)
	CPUPercent() (float64, error)
}

type gopsutilStats struct{}

func (gopsutilStats) MemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("sampling memory: %w", err)
	}
	return vm.UsedPercent, nil
}

func (gopsutilStats) CPUPercent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0, fmt.Errorf("sampling cpu: %w", err)
	}
	return percents[0], nil
}

// Scheduler walks the import tree, filters against the progress log and
// drives an adaptive pool of worker goroutines. It is the only writer
// of the progress log.
type Scheduler struct {
	store  catalog.Store
	worker *Worker
	log    *catalog.ProgressLog
	cfg    *config.Config
	stats  hostStats

	quiet bool // suppress the progress bar, used by tests
}

func NewScheduler(store catalog.Store, worker *Worker, log *catalog.ProgressLog, cfg *config.Config) *Scheduler {
	return &Scheduler{
		store:  store,
		worker: worker,
		log:    log,
		cfg:    cfg,
		stats:  gopsutilStats{},
	}
}

// Run ingests every new image under the import root. Interruption via
// ctx stops workers after their current task; completed work is already
// committed to the log.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	done, err := s.log.Load()
	if err != nil {
		return nil, err
	}

	tasks, skipped, err := s.walk(ctx, done)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Queued: len(tasks), Skipped: skipped}
	if len(tasks) == 0 {
		return summary, nil
	}

	taskCh := make(chan Task, len(tasks))
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)
	results := make(chan Result, len(tasks))

	pool := newPool(ctx, s, taskCh, results)
	initial := s.cfg.Scheduler.InitialWorkers
	if initial < 1 {
		initial = 2
	}
	for i := 0; i < pool.clamp(initial); i++ {
		pool.grow()
	}

	var bar *progressbar.ProgressBar
	if !s.quiet {
		bar = progressbar.NewOptions(len(tasks),
			progressbar.OptionSetDescription("ingesting"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
		)
	}

	cooldown := time.Duration(s.cfg.Scheduler.ScaleCooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	ticker := time.NewTicker(cooldown)
	defer ticker.Stop()

	received := 0
	interrupted := false
loop:
	for received < len(tasks) {
		select {
		case res := <-results:
			received++
			s.handleResult(res, summary, bar)
		case <-ticker.C:
			s.rescale(pool, len(taskCh))
		case <-ctx.Done():
			interrupted = true
			break loop
		}
	}

	pool.shutdown(s.shutdownGrace())

	// Drain results that finished during shutdown.
	for {
		select {
		case res := <-results:
			s.handleResult(res, summary, bar)
		default:
			if err := s.log.Close(); err != nil {
				return summary, err
			}
			if interrupted {
				return summary, ctx.Err()
			}
			return summary, nil
		}
	}
}

func (s *Scheduler) handleResult(res Result, summary *Summary, bar *progressbar.ProgressBar) {
	if bar != nil {
		bar.Add(1)
	}
	if res.OK {
		summary.Succeeded++
		if err := s.log.Append(res.RelPath, res.Entry); err != nil {
			summary.Failed++
			summary.Succeeded--
			recordError(summary, err)
		}
		return
	}
	summary.Failed++
	recordError(summary, res.Err)
}

func recordError(summary *Summary, err error) {
	if err == nil {
		return
	}
	if len(summary.LastErrors) >= maxLastErrors {
		summary.LastErrors = summary.LastErrors[1:]
	}
	summary.LastErrors = append(summary.LastErrors, err.Error())
}

// rescale applies the memory/CPU policy: shed a worker under memory
// pressure, add one when the host is idle and the backlog warrants it.
func (s *Scheduler) rescale(pool *workerPool, backlog int) {
	memPct, err := s.stats.MemoryPercent()
	if err != nil {
		return
	}

	sc := s.cfg.Scheduler
	if memPct > sc.MemoryHighWatermark {
		pool.shrink()
		return
	}

	cpuPct, err := s.stats.CPUPercent()
	if err != nil {
		return
	}
	if memPct < sc.MemoryLowWatermark && cpuPct < sc.CPUHighWatermark &&
		backlog > sc.BacklogFactor*pool.size() {
		pool.grow()
	}
}

func (s *Scheduler) shutdownGrace() time.Duration {
	if s.cfg.Scheduler.ShutdownGraceSeconds > 0 {
		return time.Duration(s.cfg.Scheduler.ShutdownGraceSeconds) * time.Second
	}
	return 2 * time.Second
}

// walk collects the candidate files under the import root, skipping
// dotfiles, unsupported formats and everything already in the progress
// set. Folder documents are pre-created for each visited directory.
func (s *Scheduler) walk(ctx context.Context, done map[string]catalog.ProgressEntry) ([]Task, int, error) {
	root := s.cfg.Paths.ImportDir
	if _, err := os.Stat(root); err != nil {
		return nil, 0, fmt.Errorf("import root %s: %w", root, err)
	}

	var tasks []Task
	skipped := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if p != root {
				rel, err := filepath.Rel(root, p)
				if err != nil {
					return err
				}
				if _, err := s.store.EnsureFolderPath(ctx, filepath.ToSlash(rel)); err != nil {
					return err
				}
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if !sniffImage(p) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, ok := done[rel]; ok {
			skipped++
			return nil
		}
		tasks = append(tasks, Task{AbsPath: p, RelPath: rel})
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walking import root: %w", err)
	}
	return tasks, skipped, nil
}

// sniffImage reads the magic bytes of a file and reports whether it is
// an image the pipeline accepts.
func sniffImage(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 16)
	n, err := f.Read(head)
	if err != nil || n == 0 {
		return false
	}
	return detector.IsSupportedImage(head[:n])
}

// workerPool tracks the live worker goroutines. Each worker owns a stop
// channel so one can be shed without touching the rest.
type workerPool struct {
	ctx     context.Context
	sched   *Scheduler
	tasks   <-chan Task
	results chan<- Result

	mu    sync.Mutex
	stops []chan struct{}
	wg    sync.WaitGroup
}

func newPool(ctx context.Context, sched *Scheduler, tasks <-chan Task, results chan<- Result) *workerPool {
	return &workerPool{ctx: ctx, sched: sched, tasks: tasks, results: results}
}

func (p *workerPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stops)
}

func (p *workerPool) maxWorkers() int {
	max := runtime.NumCPU() - 1
	if max < 1 {
		max = 1
	}
	return max
}

func (p *workerPool) clamp(n int) int {
	if n < 1 {
		return 1
	}
	if max := p.maxWorkers(); n > max {
		return max
	}
	return n
}

// grow spawns one worker unless the pool is at its upper bound.
func (p *workerPool) grow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stops) >= p.maxWorkers() {
		return
	}
	stop := make(chan struct{})
	p.stops = append(p.stops, stop)
	p.wg.Add(1)
	go p.supervise(stop)
}

// shrink stops one worker unless the pool is at its lower bound.
func (p *workerPool) shrink() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stops) <= 1 {
		return
	}
	last := p.stops[len(p.stops)-1]
	p.stops = p.stops[:len(p.stops)-1]
	close(last)
}

// supervise keeps one worker slot alive: if the loop dies to a panic it
// is restarted immediately. The task being executed is lost, which is
// fine because the log is only written after success.
func (p *workerPool) supervise(stop chan struct{}) {
	defer p.wg.Done()
	for {
		if p.runWorker(stop) {
			return
		}
	}
}

// runWorker executes tasks until the queue closes or the stop channel
// fires. Returns false when it died to a panic and should be respawned.
func (p *workerPool) runWorker(stop chan struct{}) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			clean = false
		}
	}()
	for {
		select {
		case <-stop:
			return true
		case <-p.ctx.Done():
			return true
		case task, ok := <-p.tasks:
			if !ok {
				return true
			}
			p.results <- p.sched.worker.Process(p.ctx, task)
		}
	}
}

// shutdown stops all workers and waits up to the grace period for them
// to finish their current task.
func (p *workerPool) shutdown(grace time.Duration) {
	p.mu.Lock()
	for _, stop := range p.stops {
		close(stop)
	}
	p.stops = nil
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(grace):
	}
}
