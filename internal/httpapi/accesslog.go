package httpapi

import (
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5/middleware"
)

const redacted = "REDACTED"

// redactingFormatter is chi's default access log with the token query
// parameter masked. The request seen by handlers is left untouched.
type redactingFormatter struct {
	next middleware.LogFormatter
}

func newAccessLogFormatter(l middleware.LoggerInterface) middleware.LogFormatter {
	if l == nil {
		l = log.New(os.Stdout, "", log.LstdFlags)
	}
	return redactingFormatter{next: &middleware.DefaultLogFormatter{Logger: l, NoColor: true}}
}

func (f redactingFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	q := r.URL.Query()
	if !q.Has("token") {
		return f.next.NewLogEntry(r)
	}
	q.Set("token", redacted)
	masked := *r
	masked.RequestURI = r.URL.EscapedPath() + "?" + q.Encode()
	return f.next.NewLogEntry(&masked)
}
