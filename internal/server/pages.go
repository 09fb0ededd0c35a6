package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/morezero/streamcall/pkg/registry"
)

// rootSlug addresses the root namespace in page URLs.
const rootSlug = "~"

func slugFor(prefix string) string {
	if prefix == "" {
		return rootSlug
	}
	return url.PathEscape(prefix)
}

func prefixFor(slug string) string {
	if slug == rootSlug {
		return ""
	}
	return slug
}

func displayName(prefix string) string {
	if prefix == "" {
		return "(root)"
	}
	return prefix
}

var pageFuncs = template.FuncMap{
	"slug": slugFor,
	"name": displayName,
	"json": func(v any) string {
		if v == nil {
			return ""
		}
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	},
}

// homePageTemplate is the HTML for the home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>streamcall</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-degraded { color: #cc7a00; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>streamcall</h1>
  <p class="meta">Loaded namespaces and their reload state.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Namespaces</h2>
    {{if not .Health.Namespaces}}
    <p>No namespaces loaded.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Prefix</th><th>Version</th><th>Seq</th><th>Handlers</th><th>Loaded</th><th>Last error</th></tr>
      </thead>
      <tbody>
        {{range .Health.Namespaces}}
        <tr>
          <td><a href="/namespace/{{slug .Prefix}}">{{name .Prefix}}</a></td>
          <td>{{.Version}}</td>
          <td>{{.Seq}}</td>
          <td><span class="stat">{{.Handlers}}</span></td>
          <td>{{.LoadedAt}}</td>
          <td>{{if .LastError}}<span class="error">{{.LastError}}</span>{{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// namespacePageTemplate is the HTML for a single namespace (describe output).
const namespacePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{if .Describe}}{{name .Describe.Prefix}}{{end}} – streamcall</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; vertical-align: top; }
    th { background: #f0f4f8; color: #0066cc; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
    pre { background: #f5f5f5; padding: 0.5rem; overflow-x: auto; font-size: 0.85rem; margin: 0; border: 1px solid #eee; }
    .back { margin-bottom: 1rem; }
    .actions { margin: 1rem 0; }
    .btn { display: inline-block; padding: 0.5rem 1rem; background: #0066cc; color: #fff; text-decoration: none; border-radius: 4px; }
    .btn:hover { background: #0052a3; }
  </style>
</head>
<body>
  <p class="back"><a href="/">← Back</a></p>
  {{if .DescribeError}}
  <p class="error">Could not load namespace: {{.DescribeError}}</p>
  {{else}}
  <h1>{{name .Describe.Prefix}}</h1>
  <p>Version {{.Describe.Version}}, seq {{.Describe.Seq}}, loaded {{.Describe.LoadedAt}}</p>
  <p class="actions"><a href="/namespace/{{slug .Describe.Prefix}}/docs" class="btn">View API (Swagger)</a></p>

  <section>
    <h2>Handlers</h2>
    {{if not .Describe.Methods}}
    <p>No handlers defined.</p>
    {{else}}
    <table>
      <thead><tr><th>Path</th><th>Kind</th><th>Target</th><th>Params</th></tr></thead>
      <tbody>
      {{range .Describe.Methods}}
      <tr>
        <td>{{.Path}}</td>
        <td>{{.Kind}}</td>
        <td>{{if .Func}}{{.Func}}{{else}}{{range .Exec}}{{.}} {{end}}{{end}}</td>
        <td>{{if .Params}}<pre>{{json .Params}}</pre>{{end}}</td>
      </tr>
      {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
  {{end}}
</body>
</html>
`

type homeData struct {
	Health *registry.HealthOutput
}

// handleHome returns an HTTP handler for the home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Funcs(pageFuncs).Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		data := homeData{Health: s.reg.Health()}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

type namespaceData struct {
	Describe      *registry.DescribeOutput
	DescribeError string
}

// openAPI3 types for generating specs from describe output.
type openAPI3Spec struct {
	OpenAPI string                      `json:"openapi"`
	Info    openAPI3Info                `json:"info"`
	Paths   map[string]openAPI3PathItem `json:"paths"`
}

type openAPI3Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

type openAPI3PathItem struct {
	Post *openAPI3Operation `json:"post,omitempty"`
}

type openAPI3Operation struct {
	Summary     string                      `json:"summary"`
	Description string                      `json:"description,omitempty"`
	OperationID string                      `json:"operationId"`
	RequestBody *openAPI3RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]openAPI3Response `json:"responses"`
}

type openAPI3RequestBody struct {
	Content map[string]openAPI3MediaType `json:"content"`
}

type openAPI3Response struct {
	Description string                       `json:"description"`
	Content     map[string]openAPI3MediaType `json:"content,omitempty"`
}

type openAPI3MediaType struct {
	Schema map[string]any `json:"schema,omitempty"`
}

var (
	callSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"args":   map[string]any{"type": "array"},
			"prefix": map[string]any{"type": "string"},
			"evt":    map[string]any{"type": "string", "description": "stream token; set to receive results on /sse/{evt}"},
		},
	}
	retSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ret": map[string]any{"type": "object"},
			"evt": map[string]any{"type": "string"},
			"err": map[string]any{"type": "object"},
		},
	}
)

// buildOpenAPISpec builds an OpenAPI 3.0 spec with one POST /rpc path per handler.
func buildOpenAPISpec(d *registry.DescribeOutput) *openAPI3Spec {
	paths := make(map[string]openAPI3PathItem)
	for _, m := range d.Methods {
		path := "/rpc/" + strings.ReplaceAll(m.Path, ".", "/")
		desc := m.Kind + " handler"
		if m.Func != "" {
			desc += " bound to " + m.Func
		}
		paths[path] = openAPI3PathItem{
			Post: &openAPI3Operation{
				Summary:     m.Path,
				Description: desc,
				OperationID: m.Path,
				RequestBody: &openAPI3RequestBody{
					Content: map[string]openAPI3MediaType{
						"application/json":    {Schema: callSchema},
						"multipart/form-data": {Schema: map[string]any{"type": "object"}},
					},
				},
				Responses: map[string]openAPI3Response{
					"200": {
						Description: "Success",
						Content: map[string]openAPI3MediaType{
							"application/json":         {Schema: retSchema},
							"application/octet-stream": {},
						},
					},
				},
			},
		}
	}
	title := displayName(d.Prefix)
	return &openAPI3Spec{
		OpenAPI: "3.0.0",
		Info: openAPI3Info{
			Title:       title,
			Description: "Namespace " + title,
			Version:     d.Version,
		},
		Paths: paths,
	}
}

// swaggerUIPage is the HTML that embeds Swagger UI from CDN and loads the OpenAPI spec.
const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>API – {{.Title}}</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      SwaggerUIBundle({
        url: "{{.SpecURL}}",
        dom_id: "#swagger-ui",
        presets: [
          SwaggerUIBundle.presets.apis,
          SwaggerUIBundle.SwaggerUIStandalonePreset
        ]
      });
    };
  </script>
</body>
</html>
`

// handleNamespace returns an HTTP handler for the namespace page, its
// OpenAPI spec and Swagger docs.
func (s *Server) handleNamespace() http.HandlerFunc {
	tmpl := template.Must(template.New("namespace").Funcs(pageFuncs).Parse(namespacePageTemplate))
	swaggerTmpl := template.Must(template.New("swagger").Parse(swaggerUIPage))
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/namespace/")
		if rest == "" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		slug, suffix, _ := strings.Cut(rest, "/")
		if unescaped, err := url.PathUnescape(slug); err == nil {
			slug = unescaped
		}
		prefix := prefixFor(slug)

		describe, err := s.reg.Describe(prefix)
		if err != nil {
			var regErr *registry.RegistryError
			if errors.As(err, &regErr) && regErr.Code == registry.CodeNotFound {
				http.NotFound(w, r)
				return
			}
			if suffix == "" {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				_ = tmpl.Execute(w, namespaceData{DescribeError: err.Error()})
			} else {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}

		switch suffix {
		case "openapi.json":
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "public, max-age=60")
			if err := json.NewEncoder(w).Encode(buildOpenAPISpec(describe)); err != nil {
				slog.Error(fmt.Sprintf("%s - openapi json encode: %v", logPrefix, err))
			}
			return
		case "docs":
			scheme := "https"
			if r.TLS == nil {
				scheme = "http"
			}
			specURL := scheme + "://" + r.Host + "/namespace/" + slugFor(prefix) + "/openapi.json"
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_ = swaggerTmpl.Execute(w, map[string]string{"Title": displayName(prefix), "SpecURL": specURL})
			return
		case "":
		default:
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, namespaceData{Describe: describe}); err != nil {
			slog.Error(fmt.Sprintf("%s - namespace template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
