package orchestrator

import "sync"

// workerPool executes blocking engine calls off the request-handling
// path. Every engine invocation in this package goes through submit, so
// the pool size caps how many provisioning operations run at once.
// Submissions past capacity queue; nothing is shed and nothing is
// retried.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
}

const defaultWorkers = 4

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = defaultWorkers
	}
	p := &workerPool{tasks: make(chan func(), size*16)}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		fn()
	}
}

// Close drains the queue and stops the workers. In-flight tasks run to
// completion.
func (p *workerPool) Close() {
	close(p.tasks)
	p.wg.Wait()
}

// submit runs fn on a pool worker and blocks the caller until it
// finishes. The caller's goroutine parks on a channel rather than
// occupying a worker, so request handling stays cheap while the engine
// call grinds.
func submit[T any](p *workerPool, fn func() (T, error)) (T, error) {
	var (
		val T
		err error
	)
	done := make(chan struct{})
	p.tasks <- func() {
		defer close(done)
		val, err = fn()
	}
	<-done
	return val, err
}
