package endpoints

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// NewStatusEndpoint returns a handler which writes the custom responseText,
// or 204 when none is configured. Load balancers probe this.
func NewStatusEndpoint(responseText string) httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		if responseText == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte(responseText))
	}
}
