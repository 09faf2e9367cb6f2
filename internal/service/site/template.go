package site

import (
	"html/template"

	"github.com/yasyarik/yaswine/internal/models"
)

type articleData struct {
	Entry
	URL       string
	Body      template.HTML
	FAQ       []models.FAQItem
	Sources   []models.SourceRef
	Published string
}

var articleTemplate = template.Must(template.New("article").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<meta name="description" content="{{.Description}}">
{{- if .Hidden}}
<meta name="robots" content="noindex, nofollow">
{{- else}}
<link rel="canonical" href="{{.URL}}">
{{- end}}
<meta property="og:type" content="article">
<meta property="og:title" content="{{.Title}}">
<meta property="og:description" content="{{.Description}}">
<meta property="og:url" content="{{.URL}}">
{{- if .HeroImage}}
<meta property="og:image" content="{{.HeroImage}}">
{{- end}}
</head>
<body>
<article>
<header>
{{- if .Category}}
<p class="category">{{.Category}}</p>
{{- end}}
<h1>{{.Title}}</h1>
<time datetime="{{.PublishedAt.Format "2006-01-02"}}">{{.Published}}</time>
{{- if .HeroImage}}
<img src="{{.HeroImage}}" alt="{{.Title}}">
{{- end}}
</header>
{{.Body}}
{{- if .FAQ}}
<section class="faq">
<h2>FAQ</h2>
{{- range .FAQ}}
<h3>{{.Question}}</h3>
<p>{{.Answer}}</p>
{{- end}}
</section>
{{- end}}
{{- if .Sources}}
<section class="sources">
<h2>Sources</h2>
<ul>
{{- range .Sources}}
<li><a href="{{.URL}}" rel="nofollow noopener">{{.Title}}</a></li>
{{- end}}
</ul>
</section>
{{- end}}
</article>
</body>
</html>
`))
