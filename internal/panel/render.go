package panel

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/jkaberg/jkbms-reactor/internal/config"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// Renderer writes views as standalone HTML pages. Entity readouts link to the
// entity's history page in Home Assistant.
type Renderer struct {
	hassURL string
	tmpl    *template.Template
}

// NewRenderer parses the embedded layouts. hassURL is the Home Assistant base
// URL used for entity links; empty disables links.
func NewRenderer(hassURL string) (*Renderer, error) {
	r := &Renderer{hassURL: strings.TrimRight(hassURL, "/")}

	tmpl, err := template.New("panel").Funcs(template.FuncMap{
		"link":    r.link,
		"percent": func(p float64) string { return strconv.FormatFloat(p, 'f', 1, 64) },
		"even":    func(i int) bool { return i%2 == 0 },
	}).ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse panel templates: %w", err)
	}
	r.tmpl = tmpl
	return r, nil
}

func (r *Renderer) link(entityID string) string {
	if r.hassURL == "" || entityID == "" {
		return "#"
	}
	return r.hassURL + "/history?entity_id=" + url.QueryEscape(entityID)
}

// Render writes v using the template named after its layout. Unknown layouts
// fall back to the reactor layout.
func (r *Renderer) Render(w io.Writer, v *View) error {
	name := v.Layout
	if r.tmpl.Lookup(name) == nil {
		name = config.LayoutCoreReactor
	}
	if err := r.tmpl.ExecuteTemplate(w, name, v); err != nil {
		return fmt.Errorf("failed to render %s panel: %w", name, err)
	}
	return nil
}
