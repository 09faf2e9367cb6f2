package draft

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/models"
)

// validDraft returns a draft that passes DefaultRules.
func validDraft() *Draft {
	return &Draft{
		Slug:        "tasting-notes-for-natural-wines",
		Title:       "Tasting notes for natural wines",
		Description: strings.Repeat("Natural wine tasting explained. ", 4),
		Category:    "Guides",
		Body:        "<p>" + strings.Repeat("word ", 320) + "</p>",
		FAQ: []models.FAQItem{
			{Question: "Q1", Answer: "A1"},
			{Question: "Q2", Answer: "A2"},
			{Question: "Q3", Answer: "A3"},
		},
		Sources: []models.SourceRef{{Title: "Ref", URL: "https://example.com/ref"}},
	}
}

func TestValidateAcceptsValidDraft(t *testing.T) {
	v := NewValidator(DefaultRules())
	assert.Empty(t, v.Validate(validDraft()))
}

func TestValidateReportsProblems(t *testing.T) {
	v := NewValidator(DefaultRules())

	tests := []struct {
		name   string
		mutate func(d *Draft)
		want   string
	}{
		{"missing slug", func(d *Draft) { d.Slug = "" }, "slug is required"},
		{"bad slug", func(d *Draft) { d.Slug = "Bad Slug" }, "lowercase words"},
		{"missing title", func(d *Draft) { d.Title = " " }, "title is required"},
		{"short description", func(d *Draft) { d.Description = "short" }, "description is 5 characters"},
		{"short body", func(d *Draft) { d.Body = "<p>too short</p>" }, "body has 2 words"},
		{"few faq", func(d *Draft) { d.FAQ = d.FAQ[:1] }, "faq has 1 items"},
		{"blank faq", func(d *Draft) { d.FAQ[0].Answer = "" }, "faq item 1"},
		{"bad source", func(d *Draft) { d.Sources[0].URL = "ftp://x" }, "source 1 has an invalid url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.mutate(d)
			problems := v.Validate(d)
			require.NotEmpty(t, problems)
			assert.Contains(t, strings.Join(problems, "; "), tt.want)
		})
	}

	assert.Equal(t, []string{"draft is empty"}, v.Validate(nil))
}

func TestHTTPGenerator(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(validDraft())
	}))
	defer srv.Close()

	g := NewHTTPGenerator(&config.GeneratorConfig{Endpoint: srv.URL, APIKey: "secret", Timeout: time.Second}, zap.NewNop())
	d, err := g.Generate(context.Background(), Request{Topic: "Tasting notes", Problems: []string{"fix title"}})

	require.NoError(t, err)
	assert.Equal(t, "tasting-notes-for-natural-wines", d.Slug)
	assert.Equal(t, "Tasting notes", got.Topic)
	assert.Equal(t, []string{"fix title"}, got.Problems)
}

func TestHTTPGeneratorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(&config.GeneratorConfig{Endpoint: srv.URL, Timeout: time.Second}, zap.NewNop())
	_, err := g.Generate(context.Background(), Request{Topic: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	unset := NewHTTPGenerator(&config.GeneratorConfig{}, zap.NewNop())
	_, err = unset.Generate(context.Background(), Request{Topic: "x"})
	assert.Error(t, err)
}
