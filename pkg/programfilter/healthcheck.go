package programfilter

import (
	"net/http"
)

// HealthcheckMiddleware allows a user defined http.Handler to be invoked by
// requests to the /healthcheck endpoint. Without one, /healthcheck answers
// 200 "ok".
type HealthcheckMiddleware struct {
	App         http.Handler
	Healthcheck http.Handler
}

func (h HealthcheckMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/healthcheck" {
		h.App.ServeHTTP(w, r)
		return
	}
	if h.Healthcheck != nil {
		h.Healthcheck.ServeHTTP(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok\n"))
}
