package crawler

import (
	"crypto/md5" //nolint:gosec // key derivation, not authentication
	"encoding/hex"
	"fmt"
	"net/url"
	"time"
)

// RecordKind tags a Record variant.
type RecordKind string

// Record variants produced by the parsers.
const (
	KindNote    RecordKind = "note"
	KindUser    RecordKind = "user"
	KindComment RecordKind = "comment"
)

// Record is the tagged union flowing through the item pipeline. Exactly one
// of Note, User or Comment is set, matching Kind.
type Record struct {
	Kind    RecordKind
	Note    *Note
	User    *User
	Comment *Comment
}

// Note is a single content post.
type Note struct {
	NoteID   string `json:"note_id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Keyword  string `json:"keyword"`
	NoteType string `json:"note_type,omitempty"`
	Location string `json:"location,omitempty"`

	AuthorName   string `json:"author_name"`
	AuthorID     string `json:"author_id"`
	AuthorAvatar string `json:"author_avatar,omitempty"`

	LikesCount    int `json:"likes_count"`
	CommentsCount int `json:"comments_count"`
	SharesCount   int `json:"shares_count"`

	Images      []string `json:"images"`
	LocalImages []string `json:"local_images,omitempty"`
	VideoURL    string   `json:"video_url,omitempty"`
	Tags        []string `json:"tags"`

	PublishTime string    `json:"publish_time,omitempty"`
	CrawlTime   time.Time `json:"crawl_time"`
}

// User is an author profile.
type User struct {
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Nickname   string `json:"nickname,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	ProfileURL string `json:"profile_url"`
	Bio        string `json:"bio,omitempty"`
	Location   string `json:"location,omitempty"`

	FollowersCount int `json:"followers_count"`
	FollowingCount int `json:"following_count"`
	NotesCount     int `json:"notes_count"`
	LikesReceived  int `json:"likes_received"`

	IsVerified bool      `json:"is_verified"`
	CrawlTime  time.Time `json:"crawl_time"`
}

// Comment is a single reply on a note.
type Comment struct {
	CommentID  string `json:"comment_id"`
	NoteID     string `json:"note_id"`
	Content    string `json:"content"`
	UserID     string `json:"user_id"`
	Username   string `json:"username,omitempty"`
	UserAvatar string `json:"user_avatar,omitempty"`

	LikesCount int `json:"likes_count"`
	ReplyCount int `json:"reply_count"`

	IsAuthorReply   bool      `json:"is_author_reply"`
	ParentCommentID string    `json:"parent_comment_id,omitempty"`
	PublishTime     string    `json:"publish_time,omitempty"`
	CrawlTime       time.Time `json:"crawl_time"`
}

// Validate confirms the required fields for the record's variant are present.
// A record failing validation must never reach persistence.
func (r *Record) Validate() error {
	switch r.Kind {
	case KindNote:
		if r.Note == nil {
			return fmt.Errorf("note record has no note payload")
		}
		return requireFields(map[string]string{
			"note_id": r.Note.NoteID,
			"url":     r.Note.URL,
			"title":   r.Note.Title,
		})
	case KindUser:
		if r.User == nil {
			return fmt.Errorf("user record has no user payload")
		}
		return requireFields(map[string]string{
			"user_id":     r.User.UserID,
			"username":    r.User.Username,
			"profile_url": r.User.ProfileURL,
		})
	case KindComment:
		if r.Comment == nil {
			return fmt.Errorf("comment record has no comment payload")
		}
		return requireFields(map[string]string{
			"comment_id": r.Comment.CommentID,
			"note_id":    r.Comment.NoteID,
			"content":    r.Comment.Content,
			"user_id":    r.Comment.UserID,
		})
	default:
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
}

// NaturalKey returns the domain identifier for the record, or "" if the
// parser could not supply one.
func (r *Record) NaturalKey() string {
	switch r.Kind {
	case KindNote:
		if r.Note != nil {
			return r.Note.NoteID
		}
	case KindUser:
		if r.User != nil {
			return r.User.UserID
		}
	case KindComment:
		if r.Comment != nil {
			return r.Comment.CommentID
		}
	}
	return ""
}

// SourceURL returns the URL the record was extracted from, when known.
func (r *Record) SourceURL() string {
	switch r.Kind {
	case KindNote:
		if r.Note != nil {
			return r.Note.URL
		}
	case KindUser:
		if r.User != nil {
			return r.User.ProfileURL
		}
	}
	return ""
}

// DedupKey derives the deterministic admission key for the record: the
// natural key prefixed by variant, or a stable hash of the source URL when
// no natural key exists. Identical records always derive the same key.
func (r *Record) DedupKey() string {
	if key := r.NaturalKey(); key != "" {
		return fmt.Sprintf("%s:%s", r.Kind, key)
	}
	sum := md5.Sum([]byte(r.SourceURL())) //nolint:gosec
	return "url:" + hex.EncodeToString(sum[:])
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if value == "" {
			return fmt.Errorf("required field %q is empty", name)
		}
	}
	return nil
}

// ValidURL reports whether raw is syntactically an absolute URL.
func ValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// CleanList de-duplicates a list field and filters empty entries, keeping
// first-seen order.
func CleanList(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
