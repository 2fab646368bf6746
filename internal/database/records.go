// Package database provides Postgres-backed persistence for extracted
// records.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

// RecordStore persists records with upsert-by-natural-key semantics.
type RecordStore interface {
	Upsert(ctx context.Context, record *crawler.Record) error
	Close()
}

// txBeginner is the slice of pgxpool.Pool the store needs; pgxmock
// satisfies it in tests.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresConfig controls the connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	Tables          Tables
}

// Tables names the destination tables. Zero values fall back to the
// xiaohongshu_* set.
type Tables struct {
	Notes    string
	Users    string
	Comments string
}

func (t Tables) withDefaults() Tables {
	if t.Notes == "" {
		t.Notes = "xiaohongshu_notes"
	}
	if t.Users == "" {
		t.Users = "xiaohongshu_users"
	}
	if t.Comments == "" {
		t.Comments = "xiaohongshu_comments"
	}
	return t
}

// Postgres implements RecordStore on a pgx pool. Each upsert runs in its
// own transaction so a failure leaves no partial write behind.
type Postgres struct {
	pool       txBeginner
	noteSQL    string
	userSQL    string
	commentSQL string
}

// NewPostgres connects a pool using the provided config.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgresWithPool(pool, cfg.Tables), nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPostgresWithPool(pool txBeginner, tables Tables) *Postgres {
	tables = tables.withDefaults()
	return &Postgres{
		pool:       pool,
		noteSQL:    fmt.Sprintf(upsertNoteSQL, tables.Notes),
		userSQL:    fmt.Sprintf(upsertUserSQL, tables.Users),
		commentSQL: fmt.Sprintf(upsertCommentSQL, tables.Comments),
	}
}

// Close releases the pool.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert inserts the record or, on a natural-key conflict, overwrites its
// mutable columns and refreshes updated_at.
func (s *Postgres) Upsert(ctx context.Context, record *crawler.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}

	switch record.Kind {
	case crawler.KindNote:
		err = upsertNote(ctx, tx, s.noteSQL, record.Note)
	case crawler.KindUser:
		err = upsertUser(ctx, tx, s.userSQL, record.User)
	case crawler.KindComment:
		err = upsertComment(ctx, tx, s.commentSQL, record.Comment)
	default:
		err = fmt.Errorf("unknown record kind %q", record.Kind)
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

const upsertNoteSQL = `
INSERT INTO %s (
	note_id, url, title, content, keyword,
	author_name, author_id, author_avatar,
	likes_count, comments_count, shares_count,
	images, local_images, tags, note_type, location, crawl_time
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
) ON CONFLICT (note_id) DO UPDATE SET
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	likes_count = EXCLUDED.likes_count,
	comments_count = EXCLUDED.comments_count,
	shares_count = EXCLUDED.shares_count,
	images = EXCLUDED.images,
	local_images = EXCLUDED.local_images,
	tags = EXCLUDED.tags,
	updated_at = CURRENT_TIMESTAMP`

func upsertNote(ctx context.Context, tx pgx.Tx, sql string, note *crawler.Note) error {
	images, err := json.Marshal(note.Images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	localImages, err := json.Marshal(note.LocalImages)
	if err != nil {
		return fmt.Errorf("marshal local images: %w", err)
	}
	tags, err := json.Marshal(note.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	if _, err := tx.Exec(ctx, sql,
		note.NoteID, note.URL, note.Title, note.Content, note.Keyword,
		note.AuthorName, note.AuthorID, note.AuthorAvatar,
		note.LikesCount, note.CommentsCount, note.SharesCount,
		images, localImages, tags, note.NoteType, note.Location, note.CrawlTime,
	); err != nil {
		return fmt.Errorf("upsert note %s: %w", note.NoteID, err)
	}
	return nil
}

const upsertUserSQL = `
INSERT INTO %s (
	user_id, username, nickname, avatar_url, profile_url, bio, location,
	followers_count, following_count, notes_count, likes_received,
	is_verified, crawl_time
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
) ON CONFLICT (user_id) DO UPDATE SET
	nickname = EXCLUDED.nickname,
	bio = EXCLUDED.bio,
	followers_count = EXCLUDED.followers_count,
	following_count = EXCLUDED.following_count,
	notes_count = EXCLUDED.notes_count,
	likes_received = EXCLUDED.likes_received,
	updated_at = CURRENT_TIMESTAMP`

func upsertUser(ctx context.Context, tx pgx.Tx, sql string, user *crawler.User) error {
	if _, err := tx.Exec(ctx, sql,
		user.UserID, user.Username, user.Nickname, user.AvatarURL, user.ProfileURL,
		user.Bio, user.Location,
		user.FollowersCount, user.FollowingCount, user.NotesCount, user.LikesReceived,
		user.IsVerified, user.CrawlTime,
	); err != nil {
		return fmt.Errorf("upsert user %s: %w", user.UserID, err)
	}
	return nil
}

const upsertCommentSQL = `
INSERT INTO %s (
	comment_id, note_id, content, user_id, username, user_avatar,
	likes_count, reply_count, is_author_reply, parent_comment_id, crawl_time
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
) ON CONFLICT (comment_id) DO UPDATE SET
	content = EXCLUDED.content,
	likes_count = EXCLUDED.likes_count,
	reply_count = EXCLUDED.reply_count,
	updated_at = CURRENT_TIMESTAMP`

func upsertComment(ctx context.Context, tx pgx.Tx, sql string, comment *crawler.Comment) error {
	if _, err := tx.Exec(ctx, sql,
		comment.CommentID, comment.NoteID, comment.Content, comment.UserID,
		comment.Username, comment.UserAvatar,
		comment.LikesCount, comment.ReplyCount,
		comment.IsAuthorReply, comment.ParentCommentID, comment.CrawlTime,
	); err != nil {
		return fmt.Errorf("upsert comment %s: %w", comment.CommentID, err)
	}
	return nil
}
