package metrics

import (
	"fmt"
	"net/http"
	"time"
)

// Middleware brackets every request with RecordStart and RecordCompletion.
// Completion is recorded on every exit path; a panic is recorded as a failed
// request and then re-raised. Responses with a 5xx status count as errors.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.RecordStart()
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			var err error
			recovered := recover()

			switch {
			case recovered != nil:
				err = fmt.Errorf("%s %s: panic: %v", r.Method, r.URL.Path, recovered)
			case rec.statusCode >= http.StatusInternalServerError:
				err = fmt.Errorf("%s %s: %d %s", r.Method, r.URL.Path, rec.statusCode, http.StatusText(rec.statusCode))
			}

			c.RecordCompletion(Sample{
				Duration:     time.Since(start),
				ResponseSize: rec.written,
				Succeeded:    err == nil,
			}, err)

			if recovered != nil {
				panic(recovered)
			}
		}()

		next.ServeHTTP(rec, r)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	written     int64
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.statusCode = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

// Flush lets streaming handlers and reverse proxies push partial responses.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
