package httpadapter

import (
	"errors"
	"net/http"

	"github.com/hjwen/counsel-agent/internal/domain"
	"github.com/hjwen/counsel-agent/internal/observability"
)

// writeError maps the domain error taxonomy onto HTTP statuses. Unknown
// errors are logged and masked as 500s.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		precond  *domain.PreconditionError
		provider *domain.ProviderError
		verdict  *domain.VerdictParseError
	)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.As(err, &precond):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: precond.Error()})
	case errors.Is(err, domain.ErrRetrievalUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.As(err, &provider):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: provider.Error()})
	case errors.As(err, &verdict):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: verdict.Error()})
	default:
		observability.LoggerFromContext(r.Context()).Error("unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

type errorBody struct {
	Error string `json:"error"`
}
