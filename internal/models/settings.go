package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// SettingsID is the primary key of every singleton settings row.
const SettingsID = 1

// AutopublishSettings is the singleton configuration of the autopublish scheduler.
type AutopublishSettings struct {
	ID                  uint           `gorm:"primaryKey" json:"-"`
	Enabled             bool           `json:"enabled"`
	TimesPerDay         int            `gorm:"not null" json:"times_per_day"`
	ChannelsJSON        datatypes.JSON `gorm:"column:channels_json" json:"-"`
	Timezone            string         `gorm:"size:64;not null" json:"timezone"`
	StartHour           int            `gorm:"not null" json:"start_hour"`
	EndHour             int            `gorm:"not null" json:"end_hour"`
	LinkedInIncludeLink bool           `gorm:"column:linkedin_include_link" json:"linkedin_include_link"`
	TelegramIncludeLink bool           `gorm:"column:telegram_include_link" json:"telegram_include_link"`
	LastSlotKey         string         `gorm:"size:32" json:"last_slot_key"`
	LastRunAt           *time.Time     `json:"last_run_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

func (AutopublishSettings) TableName() string {
	return "autopublish_settings"
}

// DefaultAutopublishSettings returns the settings used before anything is saved.
func DefaultAutopublishSettings() AutopublishSettings {
	s := AutopublishSettings{
		ID:          SettingsID,
		TimesPerDay: 3,
		Timezone:    "UTC",
		StartHour:   9,
		EndHour:     21,
	}
	s.SetChannels(Channels)
	return s
}

// EnabledChannels returns the configured channels in declared order.
// An unset or empty list means every channel.
func (s *AutopublishSettings) EnabledChannels() []string {
	var raw []string
	if len(s.ChannelsJSON) > 0 {
		_ = json.Unmarshal(s.ChannelsJSON, &raw)
	}
	set := make(map[string]bool, len(raw))
	for _, ch := range raw {
		set[ch] = true
	}
	out := make([]string, 0, len(Channels))
	for _, ch := range Channels {
		if set[ch] {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), Channels...)
	}
	return out
}

// SetChannels stores the known channels of list, dropping anything else.
func (s *AutopublishSettings) SetChannels(list []string) {
	clean := make([]string, 0, len(list))
	for _, ch := range Channels {
		for _, want := range list {
			if want == ch {
				clean = append(clean, ch)
				break
			}
		}
	}
	b, _ := json.Marshal(clean)
	s.ChannelsJSON = datatypes.JSON(b)
}

// IncludeLink reports whether posts on ch carry the article link.
// Microblog threads always end with the link.
func (s *AutopublishSettings) IncludeLink(ch string) bool {
	switch ch {
	case ChannelLinkedIn:
		return s.LinkedInIncludeLink
	case ChannelTelegram:
		return s.TelegramIncludeLink
	}
	return true
}

// TopicDiscoverySettings is the singleton configuration of topic autodiscovery.
type TopicDiscoverySettings struct {
	ID           uint       `gorm:"primaryKey" json:"-"`
	Enabled      bool       `json:"enabled"`
	Timezone     string     `gorm:"size:64;not null" json:"timezone"`
	RunHour      int        `gorm:"not null" json:"run_hour"`
	Direction    string     `gorm:"type:text" json:"direction"`
	CategoryHint string     `gorm:"size:120" json:"category_hint"`
	PerRunLimit  int        `gorm:"not null" json:"per_run_limit"`
	MinScore     float64    `gorm:"not null" json:"min_score"`
	TopN         int        `gorm:"column:top_n;not null" json:"top_n"`
	LastRunKey   string     `gorm:"size:32" json:"last_run_key"`
	LastRunAt    *time.Time `json:"last_run_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (TopicDiscoverySettings) TableName() string {
	return "topic_discovery_settings"
}

// DefaultTopicDiscoverySettings returns the settings used before anything is saved.
func DefaultTopicDiscoverySettings() TopicDiscoverySettings {
	return TopicDiscoverySettings{
		ID:          SettingsID,
		Timezone:    "UTC",
		RunHour:     6,
		PerRunLimit: 15,
		MinScore:    55,
		TopN:        3,
	}
}
