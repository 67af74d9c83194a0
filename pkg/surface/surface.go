// Package surface connects the bridge to the rendered web surface.
package surface

import "sync"

// HandlerName is the script message handler the page posts to
// (window.webkit.messageHandlers.rainbowBridge).
const HandlerName = "rainbowBridge"

// Surface evaluates scripts in the rendered page. Evaluation is
// fire-and-forget; an error means the script could not be submitted.
type Surface interface {
	EvaluateScript(script string) error
}

// Func adapts a function to Surface.
type Func func(script string) error

func (f Func) EvaluateScript(script string) error { return f(script) }

// Recorder is a Surface that keeps every evaluated script.
type Recorder struct {
	mu      sync.Mutex
	scripts []string
	// Err, when set, is returned from EvaluateScript after recording.
	Err error
}

func (r *Recorder) EvaluateScript(script string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = append(r.scripts, script)
	return r.Err
}

// Scripts returns a copy of the evaluated scripts.
func (r *Recorder) Scripts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scripts...)
}
