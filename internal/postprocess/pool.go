package postprocess

import (
	_ "embed"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/elmwatch/internal/spawn"
	"github.com/grovetools/elmwatch/logging"
)

//go:embed shim.cjs
var shimSource []byte

// Pool manages a bounded set of long-lived postprocess workers. Workers are
// created on demand, reused within a run, and killed when the pool exceeds
// the cap computed by the installed calculateMax function.
type Pool struct {
	executor    spawn.Executor
	nodeCommand string
	shimDir     string
	shimPath    string
	logger      *logrus.Entry

	mu           sync.Mutex
	workers      []*Worker
	nextID       int
	calculateMax func() int

	onUnexpectedError func(error)
}

// NewPool writes the embedded worker shim to a temp directory and returns an
// empty pool. onUnexpectedError receives worker crashes and messaging
// failures; the orchestrator treats those as fatal.
func NewPool(executor spawn.Executor, onUnexpectedError func(error)) (*Pool, error) {
	shimDir, err := os.MkdirTemp("", "elm-watch-worker-*")
	if err != nil {
		return nil, err
	}
	shimPath := filepath.Join(shimDir, "shim.cjs")
	if err := os.WriteFile(shimPath, shimSource, 0644); err != nil {
		_ = os.RemoveAll(shimDir)
		return nil, err
	}

	return &Pool{
		executor:          executor,
		nodeCommand:       "node",
		shimDir:           shimDir,
		shimPath:          shimPath,
		logger:            logging.NewLogger("postprocess"),
		calculateMax:      func() int { return 1 },
		onUnexpectedError: onUnexpectedError,
	}, nil
}

// GetOrCreateAvailableWorker returns an existing idle worker or creates a
// new one.
func (p *Pool) GetOrCreateAvailableWorker() (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, worker := range p.workers {
		if worker.isIdle() {
			return worker, nil
		}
	}

	p.nextID++
	worker, err := newWorker(
		p.nextID,
		p.executor,
		p.nodeCommand,
		p.shimPath,
		p.workerBecameIdle,
		p.workerTerminated,
		p.workerFailed,
	)
	if err != nil {
		return nil, err
	}

	p.logger.WithField("worker", p.nextID).Debug("created postprocess worker")
	p.workers = append(p.workers, worker)
	return worker, nil
}

// SetCalculateMax installs the function computing the worker cap, usually
// from the number of connected clients.
func (p *Pool) SetCalculateMax(calculateMax func() int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calculateMax = calculateMax
}

// Limit kills idle workers in excess of the cap, newest-first among idle, so
// older workers that have already warmed up module caches survive.
func (p *Pool) Limit() {
	p.mu.Lock()
	max := p.calculateMax()
	if max < 1 {
		max = 1
	}
	var excess []*Worker
	count := len(p.workers)
	for i := len(p.workers) - 1; i >= 0 && count > max; i-- {
		if p.workers[i].isIdle() {
			excess = append(excess, p.workers[i])
			count--
		}
	}
	p.mu.Unlock()

	for _, worker := range excess {
		p.logger.WithField("worker", worker.id).Debug("killing excess postprocess worker")
		worker.Terminate()
	}
}

// Terminate asynchronously terminates every worker and removes the shim.
func (p *Pool) Terminate() {
	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	for _, worker := range workers {
		go worker.Terminate()
	}

	_ = os.RemoveAll(p.shimDir)
}

func (p *Pool) workerBecameIdle(*Worker) {
	p.Limit()
}

func (p *Pool) workerTerminated(worker *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.workers {
		if w == worker {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
}

func (p *Pool) workerFailed(worker *Worker, err error) {
	p.logger.WithError(err).WithField("worker", worker.id).Error("postprocess worker failed")
	if p.onUnexpectedError != nil {
		p.onUnexpectedError(err)
	}
}
