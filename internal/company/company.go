// Package company resolves Instagram business accounts to the companies that
// own them and stores per-company channel settings.
package company

import (
	"context"
	"errors"
)

// ErrUnknownAccount is returned when no company owns a channel account id.
var ErrUnknownAccount = errors.New("company: unknown channel account")

// ChannelAccount links an Instagram business account to a company.
type ChannelAccount struct {
	AccountID   string `json:"account_id"`
	CompanyID   string `json:"company_id"`
	CompanyName string `json:"company_name"`
	AccessToken string `json:"-"`
}

// Directory resolves channel accounts.
type Directory interface {
	ResolveAccount(ctx context.Context, accountID string) (*ChannelAccount, error)
}

const (
	DefaultStaticDMReply           = "Thanks for reaching out to us, we will contact you shortly."
	DefaultStaticCommentReply      = "Please check your DM"
	DefaultStaticCommentFollowupDM = "Hi, Thanks for commenting on our post. How can we assist you further on your property searching journey?"
)

// Settings are operator-controlled switches and canned replies.
type Settings struct {
	CompanyID               string `json:"company_id"`
	EnableDMResponse        bool   `json:"enable_dm_response"`
	EnableCommentReply      bool   `json:"enable_comment_reply"`
	StaticDMReply           string `json:"static_dm_reply" validate:"max=1000"`
	StaticCommentReply      string `json:"static_comment_reply" validate:"max=1000"`
	StaticCommentFollowupDM string `json:"static_comment_followup_dm_reply" validate:"max=1000"`
}

// DefaultSettings returns the settings a company starts with.
func DefaultSettings(companyID string) *Settings {
	return &Settings{
		CompanyID:               companyID,
		EnableDMResponse:        true,
		EnableCommentReply:      true,
		StaticDMReply:           DefaultStaticDMReply,
		StaticCommentReply:      DefaultStaticCommentReply,
		StaticCommentFollowupDM: DefaultStaticCommentFollowupDM,
	}
}

// normalize fills blank canned replies with defaults.
func (s *Settings) normalize() {
	if s.StaticDMReply == "" {
		s.StaticDMReply = DefaultStaticDMReply
	}
	if s.StaticCommentReply == "" {
		s.StaticCommentReply = DefaultStaticCommentReply
	}
	if s.StaticCommentFollowupDM == "" {
		s.StaticCommentFollowupDM = DefaultStaticCommentFollowupDM
	}
}

// SettingsStore reads and writes Settings.
type SettingsStore interface {
	Get(ctx context.Context, companyID string) (*Settings, error)
	Set(ctx context.Context, settings *Settings) error
}
