package unit

import "context"

// writeQueueDepth bounds how many mutating operations may be queued per
// unit before submission blocks.
const writeQueueDepth = 32

// writeJob is one queued mutating operation. The consumer goroutine runs
// jobs strictly in submission order, one at a time.
type writeJob struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// enqueue appends a job to the unit's write queue and waits for its
// completion. The queue guarantees at most one in-flight protocol
// transaction per unit.
func (r *Registry) enqueue(ctx context.Context, st *unitState, run func(ctx context.Context) error) error {
	r.mu.Lock()
	removed := st.removed
	r.mu.Unlock()
	if removed {
		return ErrUnitRemoved
	}

	job := &writeJob{ctx: ctx, run: run, done: make(chan error, 1)}

	select {
	case st.jobs <- job:
	case <-st.stopPoll:
		return ErrUnitRemoved
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRegistryClosed
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		// The job still runs to completion in order; only the caller
		// stops waiting.
		return ctx.Err()
	case <-st.stopPoll:
		// Unit removed with the job still queued. The consumer may have
		// drained and exited before the job landed, so help drain until
		// our own completion comes back.
		for {
			select {
			case err := <-job.done:
				return err
			case other := <-st.jobs:
				other.done <- ErrUnitRemoved
			}
		}
	}
}

// consumeWrites is the per-unit queue consumer. It drains jobs until the
// unit is removed, failing leftovers so no caller hangs.
func (r *Registry) consumeWrites(st *unitState) {
	defer r.wg.Done()

	for {
		select {
		case job := <-st.jobs:
			if job.ctx.Err() != nil {
				job.done <- job.ctx.Err()
				continue
			}
			job.done <- job.run(job.ctx)
		case <-st.stopPoll:
			// Unit removed; drain whatever is still queued.
			for {
				select {
				case job := <-st.jobs:
					job.done <- ErrUnitRemoved
				default:
					return
				}
			}
		}
	}
}
