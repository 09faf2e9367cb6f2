package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Job status values.
const (
	JobStatusNew        = "NEW"
	JobStatusGenerating = "GENERATING"
	JobStatusReady      = "READY"
	JobStatusError      = "ERROR"
	JobStatusPublished  = "PUBLISHED"
)

// Channel status values. An empty string means the channel was never attempted.
const (
	ChannelStatusNone    = ""
	ChannelStatusPosting = "POSTING"
	ChannelStatusPosted  = "POSTED"
	ChannelStatusError   = "ERROR"
)

const (
	VisibilityPublic = "public"
	VisibilityHidden = "hidden"
)

const (
	ChannelLinkedIn  = "linkedin"
	ChannelTelegram  = "telegram"
	ChannelMicroblog = "microblog"
)

// Channels lists every social channel in the order they are attempted.
var Channels = []string{ChannelLinkedIn, ChannelTelegram, ChannelMicroblog}

// IsChannel reports whether name is a known channel.
func IsChannel(name string) bool {
	for _, ch := range Channels {
		if ch == name {
			return true
		}
	}
	return false
}

// Job is one content item and its lifecycle state.
type Job struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	Topic        string         `gorm:"type:text;not null" json:"topic"`
	Slug         *string        `gorm:"uniqueIndex;size:160" json:"slug"`
	Status       string         `gorm:"size:20;not null;index" json:"status"`
	Visibility   string         `gorm:"size:10;not null" json:"visibility"`
	Title        string         `gorm:"size:300" json:"title"`
	Description  string         `gorm:"type:text" json:"description"`
	Category     string         `gorm:"size:120" json:"category"`
	HeroImage    string         `gorm:"size:500" json:"hero_image"`
	Body         string         `gorm:"type:text" json:"body"`
	FAQ          datatypes.JSON `json:"faq"`
	Sources      datatypes.JSON `json:"sources"`
	Error        string         `gorm:"type:text" json:"error"`
	PublishedURL *string        `gorm:"size:500" json:"published_url"`

	LinkedInStatus   string     `gorm:"column:linkedin_status;size:20;index" json:"linkedin_status"`
	LinkedInPostURL  string     `gorm:"column:linkedin_post_url;size:500" json:"linkedin_post_url"`
	LinkedInPostedAt *time.Time `gorm:"column:linkedin_posted_at" json:"linkedin_posted_at"`
	LinkedInError    string     `gorm:"column:linkedin_error;type:text" json:"linkedin_error"`

	TelegramStatus   string     `gorm:"column:telegram_status;size:20;index" json:"telegram_status"`
	TelegramPostURL  string     `gorm:"column:telegram_post_url;size:500" json:"telegram_post_url"`
	TelegramPostedAt *time.Time `gorm:"column:telegram_posted_at" json:"telegram_posted_at"`
	TelegramError    string     `gorm:"column:telegram_error;type:text" json:"telegram_error"`

	MicroblogStatus   string     `gorm:"column:microblog_status;size:20;index" json:"microblog_status"`
	MicroblogPostURL  string     `gorm:"column:microblog_post_url;size:500" json:"microblog_post_url"`
	MicroblogPostedAt *time.Time `gorm:"column:microblog_posted_at" json:"microblog_posted_at"`
	MicroblogError    string     `gorm:"column:microblog_error;type:text" json:"microblog_error"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// ChannelState is the posting state of one channel on a job.
type ChannelState struct {
	Status   string     `json:"status"`
	PostURL  string     `json:"post_url,omitempty"`
	PostedAt *time.Time `json:"posted_at,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// ChannelColumns names the columns that hold a channel's state.
type ChannelColumns struct {
	Status   string
	PostURL  string
	PostedAt string
	Error    string
}

// ColumnsFor returns the column names for channel ch.
func ColumnsFor(ch string) ChannelColumns {
	return ChannelColumns{
		Status:   ch + "_status",
		PostURL:  ch + "_post_url",
		PostedAt: ch + "_posted_at",
		Error:    ch + "_error",
	}
}

// Channel returns the state of channel ch. Unknown channels yield the zero state.
func (j *Job) Channel(ch string) ChannelState {
	switch ch {
	case ChannelLinkedIn:
		return ChannelState{j.LinkedInStatus, j.LinkedInPostURL, j.LinkedInPostedAt, j.LinkedInError}
	case ChannelTelegram:
		return ChannelState{j.TelegramStatus, j.TelegramPostURL, j.TelegramPostedAt, j.TelegramError}
	case ChannelMicroblog:
		return ChannelState{j.MicroblogStatus, j.MicroblogPostURL, j.MicroblogPostedAt, j.MicroblogError}
	}
	return ChannelState{}
}

// ChannelStates maps every channel to its state.
func (j *Job) ChannelStates() map[string]ChannelState {
	out := make(map[string]ChannelState, len(Channels))
	for _, ch := range Channels {
		out[ch] = j.Channel(ch)
	}
	return out
}

// SlugValue returns the slug or "" when unset.
func (j *Job) SlugValue() string {
	if j.Slug == nil {
		return ""
	}
	return *j.Slug
}

// IsPublished reports whether the job has a site URL.
func (j *Job) IsPublished() bool {
	return j.PublishedURL != nil && *j.PublishedURL != ""
}

// FAQItem is one question/answer pair of an article.
type FAQItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SourceRef is a citation attached to an article.
type SourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// FAQItems decodes the FAQ column. Malformed data yields nil.
func (j *Job) FAQItems() []FAQItem {
	var items []FAQItem
	if len(j.FAQ) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.FAQ, &items); err != nil {
		return nil
	}
	return items
}

// SourceRefs decodes the sources column. Malformed data yields nil.
func (j *Job) SourceRefs() []SourceRef {
	var refs []SourceRef
	if len(j.Sources) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.Sources, &refs); err != nil {
		return nil
	}
	return refs
}

// JobLog is a per-job event entry. Rows are removed with their job.
type JobLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	JobID     string    `gorm:"size:36;not null;index" json:"job_id"`
	Level     string    `gorm:"size:10;not null" json:"level"`
	Step      string    `gorm:"size:40" json:"step"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
