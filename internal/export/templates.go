package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var chapterTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"lines": func(s string) []string {
			if s == "" {
				return nil
			}
			return strings.Split(s, "\n")
		},
		"cells": func(s string) []string {
			return strings.Split(s, "\t")
		},
	}

	content, err := templateFS.ReadFile("templates/export.html")
	if err != nil {
		chapterTemplate = template.Must(template.New("export").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}
	chapterTemplate = template.Must(template.New("export").Funcs(funcMap).Parse(string(content)))
}

// RenderHTML renders the visual aggregation as a standalone HTML page.
func RenderHTML(v Visual) (string, error) {
	var buf bytes.Buffer
	if err := chapterTemplate.Execute(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const fallbackTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.ChapterName}}</title></head>
<body>
<h1>{{.ChapterName}}</h1>
<pre>{{.Text}}</pre>
<pre>{{.WordOrderTable}}</pre>
<pre>{{.TextAnnotationTable}}</pre>
<pre>{{.TokenClassificationTable}}</pre>
<pre>{{.TokenConnectionClusters}}</pre>
<pre>{{.SentenceClassificationTable}}</pre>
</body>
</html>`
