package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/channels"
	"github.com/yasyarik/yaswine/internal/service/draft"
	"github.com/yasyarik/yaswine/internal/service/topics"
	"github.com/yasyarik/yaswine/pkg/util"
)

// ValidDraft returns a draft for topic that passes draft.DefaultRules.
func ValidDraft(topic string) *draft.Draft {
	return &draft.Draft{
		Slug:        util.GenerateSlug(topic, 120),
		Title:       topic,
		Description: strings.Repeat("A practical look at the subject for curious drinkers. ", 2),
		Category:    "Guides",
		Body:        "<p>" + strings.Repeat("wine ", 320) + "</p>",
		FAQ: []models.FAQItem{
			{Question: "What is it?", Answer: "A style."},
			{Question: "How to serve?", Answer: "Chilled."},
			{Question: "What to pair?", Answer: "Cheese."},
		},
		Sources: []models.SourceRef{{Title: "Source", URL: "https://example.com/source"}},
	}
}

// FakeGenerator answers generation requests with Fn, or a valid draft when
// Fn is nil. Requests are recorded.
type FakeGenerator struct {
	Fn func(call int, req draft.Request) (*draft.Draft, error)

	mu       sync.Mutex
	requests []draft.Request
}

func (g *FakeGenerator) Generate(_ context.Context, req draft.Request) (*draft.Draft, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	call := len(g.requests)
	g.mu.Unlock()

	if g.Fn != nil {
		return g.Fn(call, req)
	}
	return ValidDraft(req.Topic), nil
}

func (g *FakeGenerator) Requests() []draft.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]draft.Request(nil), g.requests...)
}

// FakeSite records site operations. Publish blocks on Block when set and
// signals Entered first.
type FakeSite struct {
	BaseURL string
	Err     error
	Entered chan struct{}
	Block   chan struct{}

	mu          sync.Mutex
	published   []string
	unpublished []string
	removed     []string
}

func (f *FakeSite) Publish(ctx context.Context, job *models.Job) (string, error) {
	f.mu.Lock()
	f.published = append(f.published, job.ID)
	f.mu.Unlock()

	if f.Entered != nil {
		select {
		case f.Entered <- struct{}{}:
		default:
		}
	}
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.Err != nil {
		return "", f.Err
	}
	base := f.BaseURL
	if base == "" {
		base = "https://blog.example.com"
	}
	return fmt.Sprintf("%s/blog/%s.html", base, job.SlugValue()), nil
}

func (f *FakeSite) Unpublish(_ context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpublished = append(f.unpublished, job.ID)
	return f.Err
}

func (f *FakeSite) Remove(_ context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, job.ID)
	return f.Err
}

func (f *FakeSite) Published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

func (f *FakeSite) Unpublished() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unpublished...)
}

func (f *FakeSite) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// FakePoster is a channel poster. With Block set it waits for Block or
// context cancellation before answering.
type FakePoster struct {
	Channel string
	URL     string
	Err     error
	Block   chan struct{}

	mu    sync.Mutex
	calls []channels.PostRequest
}

func (p *FakePoster) Name() string { return p.Channel }

func (p *FakePoster) Post(ctx context.Context, req channels.PostRequest) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.Block != nil {
		select {
		case <-p.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.Err != nil {
		return "", p.Err
	}
	if p.URL != "" {
		return p.URL, nil
	}
	return "https://social.example.com/" + p.Channel + "/" + req.JobID, nil
}

func (p *FakePoster) Calls() []channels.PostRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]channels.PostRequest(nil), p.calls...)
}

// FakeTopicSource returns Candidates for every direction.
type FakeTopicSource struct {
	Candidates []topics.Candidate
	Err        error

	mu         sync.Mutex
	directions []string
}

var ErrFake = errors.New("fake failure")

func (s *FakeTopicSource) Discover(_ context.Context, direction string, limit int, _ string) ([]topics.Candidate, error) {
	s.mu.Lock()
	s.directions = append(s.directions, direction)
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	if limit > 0 && len(s.Candidates) > limit {
		return s.Candidates[:limit], nil
	}
	return s.Candidates, nil
}

func (s *FakeTopicSource) Directions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.directions...)
}
