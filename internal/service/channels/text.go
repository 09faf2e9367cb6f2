package channels

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yasyarik/yaswine/pkg/util"
)

const (
	linkedInMaxChars  = 3000
	telegramMaxChars  = 4096
	microblogMaxChars = 280
)

var (
	sentenceEnd  = regexp.MustCompile(`([.!?])\s+`)
	hashtagStrip = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

func headline(req PostRequest) string {
	return strings.TrimSpace(util.FirstNonEmpty(req.Title, req.Topic))
}

func hashtag(category string) string {
	tag := hashtagStrip.ReplaceAllString(category, "")
	if tag == "" {
		return ""
	}
	return "#" + tag
}

// LinkedInText builds the commentary of a LinkedIn post.
func LinkedInText(req PostRequest) string {
	parts := []string{headline(req)}
	if d := strings.TrimSpace(req.Description); d != "" {
		parts = append(parts, d)
	}
	if req.IncludeLink && req.URL != "" {
		parts = append(parts, "Read more: "+req.URL)
	}
	if tag := hashtag(req.Category); tag != "" {
		parts = append(parts, tag)
	}
	return util.Truncate(strings.Join(parts, "\n\n"), linkedInMaxChars)
}

// TelegramText builds a Telegram channel message.
func TelegramText(req PostRequest) string {
	body := headline(req)
	if d := strings.TrimSpace(req.Description); d != "" {
		body += "\n\n" + d
	}
	if req.IncludeLink && req.URL != "" {
		link := "\n\n" + req.URL
		return util.Truncate(body, telegramMaxChars-utf8.RuneCountInString(link)) + link
	}
	return util.Truncate(body, telegramMaxChars)
}

// MicroblogThread splits the post into at most maxPosts entries of at most
// 280 characters. The link, when present, always closes the thread.
func MicroblogThread(req PostRequest, maxPosts int) []string {
	if maxPosts < 1 {
		maxPosts = 1
	}
	link := req.URL
	sentences := append([]string{headline(req)}, splitSentences(req.Description)...)

	var posts []string
	current := ""
	for _, s := range sentences {
		s = util.Truncate(s, microblogMaxChars)
		switch {
		case current == "":
			current = s
		case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(s) <= microblogMaxChars:
			current += " " + s
		default:
			posts = append(posts, current)
			current = s
		}
	}
	if current != "" {
		posts = append(posts, current)
	}

	if len(posts) > maxPosts {
		posts = posts[:maxPosts]
	}
	if link == "" {
		return posts
	}
	if len(posts) == 0 {
		return []string{link}
	}

	// The link joins the last post when it fits, otherwise it replaces the overflow.
	last := posts[len(posts)-1]
	if utf8.RuneCountInString(last)+1+utf8.RuneCountInString(link) <= microblogMaxChars {
		posts[len(posts)-1] = last + "\n" + link
		return posts
	}
	if len(posts) == maxPosts {
		posts = posts[:maxPosts-1]
	}
	return append(posts, link)
}

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	marked := sentenceEnd.ReplaceAllString(text, "$1\n")
	var out []string
	for _, s := range strings.Split(marked, "\n") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
