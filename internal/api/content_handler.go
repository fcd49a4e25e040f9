package api

import (
	"net/http"

	"github.com/phrazzld/scry-pipeline/internal/api/shared"
	"github.com/phrazzld/scry-pipeline/internal/content"
)

// ResolveContent handles POST /api/content/resolve. It reports which part of
// the posted document a run would use, without starting one.
func ResolveContent(w http.ResponseWriter, r *http.Request) {
	var doc content.Document
	if !decodeAndValidate(w, r, &doc) {
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, content.Resolve(doc))
}
