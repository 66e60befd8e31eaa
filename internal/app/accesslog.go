package app

import (
	"io"
	"log"
	"net/http"
	"os"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/facilityops/housekeeping/internal/access"
)

const redacted = "REDACTED"

// redactingFormatter hides query credentials from access log lines.
type redactingFormatter struct {
	next chimw.LogFormatter
}

func (f redactingFormatter) NewLogEntry(r *http.Request) chimw.LogEntry {
	return f.next.NewLogEntry(redactRequest(r))
}

// redactRequest returns a shallow copy of r whose URL carries no credential.
// The original request is left untouched for the handlers.
func redactRequest(r *http.Request) *http.Request {
	if r.URL == nil || !r.URL.Query().Has(access.QueryTokenParam) {
		return r
	}
	u := *r.URL
	q := u.Query()
	q.Set(access.QueryTokenParam, redacted)
	u.RawQuery = q.Encode()
	clone := *r
	clone.URL = &u
	clone.RequestURI = u.RequestURI()
	return &clone
}

// accessLogger is chi's request logger with credential redaction. A nil w
// logs to stdout in colour like chimw.Logger.
func accessLogger(w io.Writer) func(http.Handler) http.Handler {
	noColor := true
	if w == nil {
		w = os.Stdout
		noColor = false
	}
	return chimw.RequestLogger(redactingFormatter{
		next: &chimw.DefaultLogFormatter{Logger: log.New(w, "", log.LstdFlags), NoColor: noColor},
	})
}
