package worker

import (
	"github.com/zamerlab/avitofleet/pkg/avito"
)

// The (proxyID, proxyAddr, session) tuple is shared between the main loop
// and the coordinator goroutine. These accessors hold mu only for the
// pointer work; blocking browser I/O always runs on handles captured first.

func (w *Worker) holdsProxy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.proxyID != 0
}

func (w *Worker) setProxy(id int64, addr string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.proxyID = id
	w.proxyAddr = addr
}

func (w *Worker) proxyAddrSnapshot() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.proxyAddr
}

// clearProxy drops the proxy tuple and reports what was held.
func (w *Worker) clearProxy() (int64, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, addr := w.proxyID, w.proxyAddr
	w.proxyID, w.proxyAddr = 0, ""
	return id, addr
}

func (w *Worker) setSession(s avito.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session = s
}

func (w *Worker) currentSession() avito.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// currentPage returns the page of the live session, or nil when none.
func (w *Worker) currentPage() avito.Page {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return nil
	}
	return w.session.Page()
}

// clearProxyAndSession atomically drops both halves of the tuple. The caller
// owns the returned session and must tear it down.
func (w *Worker) clearProxyAndSession() (int64, avito.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.proxyID
	session := w.session
	w.proxyID, w.proxyAddr = 0, ""
	w.session = nil
	return id, session
}
