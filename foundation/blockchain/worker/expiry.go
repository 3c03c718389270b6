package worker

// expiryOperations handles dropping old mempool transactions.
func (w *Worker) expiryOperations() {
	w.evHandler("worker: expiryOperations: G started")
	defer w.evHandler("worker: expiryOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runExpiryOperation()
			}
		case <-w.shut:
			w.evHandler("worker: expiryOperations: received shut signal")
			return
		}
	}
}

// runExpiryOperation removes the expired transactions.
func (w *Worker) runExpiryOperation() {
	if n := w.state.RemoveExpired(); n > 0 {
		w.evHandler("worker: runExpiryOperation: removed[%d]", n)
	}
}
