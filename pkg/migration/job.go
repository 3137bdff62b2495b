package migration

// progressBuffer bounds how far the copy loop can run ahead of a slow
// consumer before it blocks.
const progressBuffer = 64

// Job is a migration running on its own goroutine. It cannot be cancelled.
type Job struct {
	progress chan Progress
	done     chan struct{}
	result   *Result
	err      error
}

// Start runs Run on a new goroutine. The prompter is called from that
// goroutine.
func (e *Engine) Start() *Job {
	job := &Job{
		progress: make(chan Progress, progressBuffer),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(job.done)
		defer close(job.progress)
		job.result, job.err = e.Run(func(p Progress) {
			job.progress <- p
		})
	}()
	return job
}

// Progress returns the progress channel. It is closed when the job ends.
func (j *Job) Progress() <-chan Progress {
	return j.progress
}

// Wait blocks until the job ends and returns its outcome. Unread progress
// updates are discarded.
func (j *Job) Wait() (*Result, error) {
	for range j.progress {
	}
	<-j.done
	return j.result, j.err
}
