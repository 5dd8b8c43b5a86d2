// Package templates renders the server's HTML pages as templ components.
//
// Edit the .templ sources and regenerate with `templ generate`.
package templates

import (
	"net/url"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/wardrive/internal/schema"
)

// CatalogPage is the data behind the index page.
type CatalogPage struct {
	Entries []schema.CatalogEntry
	// Uploaded is the dataset just created, if the page follows an upload.
	Uploaded string
	MaxSize  int64
}

func datasetURL(prefix, id string) templ.SafeURL {
	return templ.URL(prefix + url.PathEscape(id))
}

func uploadTime(e schema.CatalogEntry) string {
	return e.UploadTime.UTC().Format(time.RFC3339)
}
