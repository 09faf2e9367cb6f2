package site

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/pkg/git"
)

const (
	blogDir      = "blog"
	manifestFile = "index.json"
	feedFile     = "feed.json"
	sitemapFile  = "sitemap-en.xml"
)

// Entry is one article in the site manifest.
type Entry struct {
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	HeroImage   string    `json:"hero_image,omitempty"`
	Hidden      bool      `json:"hidden"`
	PublishedAt time.Time `json:"published_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Publisher writes articles into a static site tree and keeps the
// sitemap and JSON feed in sync with the manifest. When a repository is
// configured every change is committed and optionally pushed.
type Publisher struct {
	baseURL    string
	contentDir string
	autoPush   bool
	repo       *git.Repository
	now        func() time.Time
	logger     *zap.Logger

	mu          sync.Mutex
	initialized bool
}

func NewPublisher(cfg *config.SiteConfig, logger *zap.Logger) *Publisher {
	p := &Publisher{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		contentDir: cfg.ContentDir,
		autoPush:   cfg.AutoPush,
		now:        time.Now,
		logger:     logger,
	}
	if cfg.RepoURL != "" {
		p.repo = git.NewRepository(git.Config{
			URL:          cfg.RepoURL,
			Branch:       cfg.Branch,
			WorkspaceDir: cfg.WorkspaceDir,
			GitUsername:  cfg.GitUsername,
			GitEmail:     cfg.GitEmail,
		}, logger)
	}
	return p
}

// URL returns the public address of the article with the given slug.
func (p *Publisher) URL(slug string) string {
	return p.baseURL + "/" + blogDir + "/" + slug + ".html"
}

func (p *Publisher) Publish(ctx context.Context, job *models.Job) (string, error) {
	slug := job.SlugValue()
	if slug == "" {
		return "", errors.New("job has no slug")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	root, err := p.prepare(ctx)
	if err != nil {
		return "", err
	}

	entries, err := readManifest(root)
	if err != nil {
		return "", err
	}
	now := p.now().UTC()
	entry := Entry{
		Slug:        slug,
		Title:       job.Title,
		Description: job.Description,
		Category:    job.Category,
		HeroImage:   job.HeroImage,
		Hidden:      job.Visibility == models.VisibilityHidden,
		PublishedAt: now,
		UpdatedAt:   now,
	}
	if prev, ok := entries[slug]; ok {
		entry.PublishedAt = prev.PublishedAt
	}
	entries[slug] = entry

	if err := p.writeArticle(root, job, entry); err != nil {
		return "", err
	}
	if err := p.writeIndexes(root, entries); err != nil {
		return "", err
	}
	if err := p.commit(ctx, "Publish "+slug); err != nil {
		return "", err
	}

	url := p.URL(slug)
	p.logger.Info("Article written",
		zap.String("slug", slug),
		zap.Bool("hidden", entry.Hidden),
		zap.String("url", url))
	return url, nil
}

// Unpublish removes the article and its index entries.
func (p *Publisher) Unpublish(ctx context.Context, job *models.Job) error {
	return p.remove(ctx, job.SlugValue(), "Unpublish ")
}

// Remove deletes every artifact of a job. Missing artifacts are not an error.
func (p *Publisher) Remove(ctx context.Context, job *models.Job) error {
	return p.remove(ctx, job.SlugValue(), "Remove ")
}

func (p *Publisher) remove(ctx context.Context, slug, verb string) error {
	if slug == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	root, err := p.prepare(ctx)
	if err != nil {
		return err
	}
	entries, err := readManifest(root)
	if err != nil {
		return err
	}

	removed := true
	article := filepath.Join(root, blogDir, slug+".html")
	if err := os.Remove(article); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove article: %w", err)
		}
		removed = false
	}

	_, listed := entries[slug]
	if !listed && !removed {
		return nil
	}
	if listed {
		delete(entries, slug)
		if err := p.writeIndexes(root, entries); err != nil {
			return err
		}
	}
	if err := p.commit(ctx, verb+slug); err != nil {
		return err
	}
	p.logger.Info("Article removed", zap.String("slug", slug))
	return nil
}

// prepare returns the site root, syncing the repository once per process.
func (p *Publisher) prepare(ctx context.Context) (string, error) {
	root := p.contentDir
	if p.repo != nil {
		if !p.initialized {
			if err := p.repo.Initialize(ctx); err != nil {
				return "", fmt.Errorf("failed to initialize site repository: %w", err)
			}
			p.initialized = true
		}
		root = filepath.Join(p.repo.LocalPath(), p.contentDir)
	}
	if err := os.MkdirAll(filepath.Join(root, blogDir), 0o755); err != nil {
		return "", fmt.Errorf("failed to create site directory: %w", err)
	}
	return root, nil
}

func (p *Publisher) commit(ctx context.Context, message string) error {
	if p.repo == nil {
		return nil
	}
	if err := p.repo.AddAll(ctx); err != nil {
		return err
	}
	committed, err := p.repo.Commit(ctx, message)
	if err != nil {
		return err
	}
	if committed && p.autoPush {
		return p.repo.Push(ctx)
	}
	return nil
}

func (p *Publisher) writeArticle(root string, job *models.Job, entry Entry) error {
	var buf bytes.Buffer
	err := articleTemplate.Execute(&buf, articleData{
		Entry:     entry,
		URL:       p.URL(entry.Slug),
		Body:      template.HTML(job.Body),
		FAQ:       job.FAQItems(),
		Sources:   job.SourceRefs(),
		Published: entry.PublishedAt.Format("January 2, 2006"),
	})
	if err != nil {
		return fmt.Errorf("failed to render article: %w", err)
	}
	return writeFile(filepath.Join(root, blogDir, entry.Slug+".html"), buf.Bytes())
}

// writeIndexes rewrites the manifest, sitemap and feed. Hidden entries stay
// in the manifest only.
func (p *Publisher) writeIndexes(root string, entries map[string]Entry) error {
	list := sortedEntries(entries)
	manifest, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writeFile(filepath.Join(root, blogDir, manifestFile), manifest); err != nil {
		return err
	}

	visible := make([]Entry, 0, len(list))
	for _, e := range list {
		if !e.Hidden {
			visible = append(visible, e)
		}
	}

	sitemap, err := p.renderSitemap(visible)
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(root, sitemapFile), sitemap); err != nil {
		return err
	}

	feed, err := p.renderFeed(visible)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(root, blogDir, feedFile), feed)
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

func (p *Publisher) renderSitemap(entries []Entry) ([]byte, error) {
	set := urlSet{Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	for _, e := range entries {
		set.URLs = append(set.URLs, sitemapURL{Loc: p.URL(e.Slug), LastMod: e.UpdatedAt.Format(time.DateOnly)})
	}
	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode sitemap: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

type jsonFeed struct {
	Version     string     `json:"version"`
	Title       string     `json:"title"`
	HomePageURL string     `json:"home_page_url"`
	FeedURL     string     `json:"feed_url"`
	Items       []feedItem `json:"items"`
}

type feedItem struct {
	ID            string   `json:"id"`
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Summary       string   `json:"summary,omitempty"`
	Image         string   `json:"image,omitempty"`
	DatePublished string   `json:"date_published"`
	DateModified  string   `json:"date_modified"`
	Tags          []string `json:"tags,omitempty"`
}

func (p *Publisher) renderFeed(entries []Entry) ([]byte, error) {
	feed := jsonFeed{
		Version:     "https://jsonfeed.org/version/1.1",
		Title:       "Blog",
		HomePageURL: p.baseURL + "/" + blogDir + "/",
		FeedURL:     p.baseURL + "/" + blogDir + "/" + feedFile,
		Items:       make([]feedItem, 0, len(entries)),
	}
	for _, e := range entries {
		item := feedItem{
			ID:            e.Slug,
			URL:           p.URL(e.Slug),
			Title:         e.Title,
			Summary:       e.Description,
			Image:         e.HeroImage,
			DatePublished: e.PublishedAt.Format(time.RFC3339),
			DateModified:  e.UpdatedAt.Format(time.RFC3339),
		}
		if e.Category != "" {
			item.Tags = []string{e.Category}
		}
		feed.Items = append(feed.Items, item)
	}
	out, err := json.MarshalIndent(feed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode feed: %w", err)
	}
	return out, nil
}

func readManifest(root string) (map[string]Entry, error) {
	entries := make(map[string]Entry)
	raw, err := os.ReadFile(filepath.Join(root, blogDir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var list []Entry
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	for _, e := range list {
		entries[e.Slug] = e
	}
	return entries, nil
}

// sortedEntries orders newest first, slug breaking ties.
func sortedEntries(entries map[string]Entry) []Entry {
	list := make([]Entry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].PublishedAt.Equal(list[j].PublishedAt) {
			return list[i].PublishedAt.After(list[j].PublishedAt)
		}
		return list[i].Slug < list[j].Slug
	})
	return list
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
