package observability

import "net/http"

// ResponseRecorder wraps a ResponseWriter to remember the status and the
// body size written through it. It forwards Flush, so the job stream keeps
// working behind the middleware chain.
type ResponseRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

// NewResponseRecorder wraps w. The status defaults to 200.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	if rec, ok := w.(*ResponseRecorder); ok {
		return rec
	}
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (w *ResponseRecorder) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *ResponseRecorder) Write(b []byte) (int, error) {
	w.written = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *ResponseRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *ResponseRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Status returns the written status code.
func (w *ResponseRecorder) Status() int { return w.status }

// BytesWritten returns the number of body bytes written.
func (w *ResponseRecorder) BytesWritten() int { return w.bytes }
