package pipeline

import (
	"github.com/phrazzld/scry-pipeline/internal/content"
	"github.com/phrazzld/scry-pipeline/internal/domain"
)

// FromDocument resolves doc and sets the request text from it. When req
// already carries text and doc has nothing, the text is kept. An empty
// resolution leaves the text blank so Run reports empty input.
func FromDocument(req domain.GenerationRequest, doc *content.Document) (domain.GenerationRequest, content.Resolution) {
	if doc == nil {
		res := content.Resolve(content.Document{Selection: req.Text})
		return req, res
	}
	res := content.Resolve(*doc)
	if res.Empty() && req.Text != "" {
		return req, content.Resolve(content.Document{Selection: req.Text})
	}
	req.Text = res.Content
	req.UsedFallback = res.UsedFallback
	return req, res
}
