package store

// Write is the handle of an asynchronous persistence operation.
// Callers either Wait on it or drop it to detach.
type Write struct {
	done chan struct{}
	err  error
}

func newWrite() *Write {
	return &Write{done: make(chan struct{})}
}

func completedWrite(err error) *Write {
	w := newWrite()
	w.finish(err)
	return w
}

func (w *Write) finish(err error) {
	w.err = err
	close(w.done)
}

// Wait blocks until the write is on disk and returns its error.
func (w *Write) Wait() error {
	<-w.done
	return w.err
}

// Done is closed once the write has finished.
func (w *Write) Done() <-chan struct{} {
	return w.done
}
