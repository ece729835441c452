package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hookpulse/pkg/storage"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Config mirrors the storage configuration for the events table.
type Config struct {
	Driver      string
	DSN         string
	Dialect     string
	Table       string
	AutoMigrate bool
}

// Store implements storage.EventStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

// prEventTypes are the event types that count as pull request activity for
// the per-PR rollup.
var prEventTypes = []string{"pull_request", "pull_request_review", "pull_request_review_comment"}

type row struct {
	ID                string    `gorm:"column:id;primaryKey;size:36"`
	DeliveryID        string    `gorm:"column:delivery_id;size:128;not null;uniqueIndex"`
	EventType         string    `gorm:"column:event_type;size:64;not null;index"`
	Action            *string   `gorm:"column:action;size:64"`
	RepoName          string    `gorm:"column:repo_name;size:255"`
	RepoFullName      string    `gorm:"column:repo_full_name;size:255;index"`
	RepoURL           string    `gorm:"column:repo_url;size:512"`
	RepoOwner         string    `gorm:"column:repo_owner;size:255"`
	SenderLogin       string    `gorm:"column:sender_login;size:255"`
	SenderAvatarURL   string    `gorm:"column:sender_avatar_url;size:512"`
	SenderURL         string    `gorm:"column:sender_url;size:512"`
	Branch            *string   `gorm:"column:branch;size:255"`
	CommitSHA         *string   `gorm:"column:commit_sha;size:64"`
	CommitMessage     *string   `gorm:"column:commit_message;type:text"`
	PullRequestNumber *int64    `gorm:"column:pull_request_number;index"`
	IssueNumber       *int64    `gorm:"column:issue_number"`
	PRTitle           *string   `gorm:"column:pr_title;type:text"`
	PRBody            *string   `gorm:"column:pr_body;type:text"`
	MergeCommitSHA    *string   `gorm:"column:merge_commit_sha;size:64"`
	CommentBody       *string   `gorm:"column:comment_body;type:text"`
	ReviewState       *string   `gorm:"column:review_state;size:32"`
	ReviewBody        *string   `gorm:"column:review_body;type:text"`
	RawPayload        string    `gorm:"column:raw_payload;type:text"`
	ReceivedAt        time.Time `gorm:"column:received_at;not null;index"`
}

// Open creates a GORM-backed event store.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" && cfg.Dialect == "" {
		return nil, errors.New("storage driver or dialect is required")
	}
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		driver = normalizeDriver(cfg.Dialect)
	}
	if driver == "" {
		return nil, errors.New("unsupported storage driver")
	}

	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	table := cfg.Table
	if table == "" {
		table = "webhook_events"
	}
	store := &Store{
		db:    gormDB,
		table: table,
	}
	if cfg.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// InsertIfAbsent writes the event unless one with the same delivery id is
// already stored. The uniqueness check rides entirely on the delivery_id
// unique index: concurrent inserts with the same delivery id race at the
// database and exactly one wins. Returns false when the row already existed.
func (s *Store) InsertIfAbsent(ctx context.Context, event storage.StoredEvent) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("store is not initialized")
	}
	if event.DeliveryID == "" {
		return false, errors.New("delivery id is required")
	}
	data := toRow(event)
	res := s.tableDB().
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "delivery_id"}},
			DoNothing: true,
		}).
		Create(&data)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Find lists stored events matching the filter, newest first, with the
// total match count for pagination.
func (s *Store) Find(ctx context.Context, filter storage.EventFilter, page, pageSize int) ([]storage.StoredEvent, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, errors.New("store is not initialized")
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var data []row
	err := s.filtered(ctx, filter).
		Order("received_at DESC, id DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&data).Error
	if err != nil {
		return nil, 0, err
	}
	return fromRows(data), total, nil
}

// GetByID fetches a single stored event. Returns storage.ErrNotFound when
// no event exists for the id.
func (s *Store) GetByID(ctx context.Context, id string) (*storage.StoredEvent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data row
	err := s.tableDB().
		WithContext(ctx).
		Where("id = ?", id).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	event := fromRow(data)
	return &event, nil
}

// Recent returns the most recent events by receipt time, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]storage.StoredEvent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit < 1 {
		limit = 50
	}
	var data []row
	err := s.tableDB().
		WithContext(ctx).
		Order("received_at DESC, id DESC").
		Limit(limit).
		Find(&data).Error
	if err != nil {
		return nil, err
	}
	return fromRows(data), nil
}

// CountAll returns the total number of stored events.
func (s *Store) CountAll(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	var total int64
	err := s.tableDB().WithContext(ctx).Count(&total).Error
	return total, err
}

// CountSince returns the number of events received at or after the cutoff.
func (s *Store) CountSince(ctx context.Context, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	var total int64
	err := s.tableDB().
		WithContext(ctx).
		Where("received_at >= ?", since).
		Count(&total).Error
	return total, err
}

// CountByType returns event counts grouped by event type, largest first.
func (s *Store) CountByType(ctx context.Context) ([]storage.TypeCount, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var out []storage.TypeCount
	err := s.tableDB().
		WithContext(ctx).
		Select("event_type AS event_type, COUNT(*) AS count").
		Group("event_type").
		Order("count DESC").
		Scan(&out).Error
	return out, err
}

// prActivityRow receives the rollup scan. The MAX aggregate loses the
// column's declared type under sqlite and the driver hands the timestamp
// back as text, so last_activity is scanned as a string and parsed.
type prActivityRow struct {
	PullRequestNumber int64
	RepositoryName    string
	EventCount        int64
	LastActivity      string
}

// PRActivity rolls up pull request events by (pull request number,
// repository), sorted by most recent activity.
func (s *Store) PRActivity(ctx context.Context, limit int) ([]storage.PRActivity, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit < 1 {
		limit = 20
	}
	var data []prActivityRow
	err := s.tableDB().
		WithContext(ctx).
		Select("pull_request_number AS pull_request_number, repo_full_name AS repository_name, COUNT(*) AS event_count, MAX(received_at) AS last_activity").
		Where("event_type IN ?", prEventTypes).
		Where("pull_request_number IS NOT NULL").
		Group("pull_request_number, repo_full_name").
		Order("last_activity DESC").
		Limit(limit).
		Scan(&data).Error
	if err != nil {
		return nil, err
	}
	out := make([]storage.PRActivity, 0, len(data))
	for _, item := range data {
		out = append(out, storage.PRActivity{
			PullRequestNumber: item.PullRequestNumber,
			RepositoryName:    item.RepositoryName,
			EventCount:        item.EventCount,
			LastActivity:      parseAggregateTime(item.LastActivity),
		})
	}
	return out, nil
}

// aggregateTimeLayouts are the textual timestamp forms the drivers produce
// for aggregate columns: RFC3339 from postgres, the sqlite storage format
// with and without fractional seconds, and the mysql DATETIME form.
var aggregateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseAggregateTime(value string) time.Time {
	for _, layout := range aggregateTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// CommentStats aggregates count and average comment length per event type
// over events carrying a comment body.
func (s *Store) CommentStats(ctx context.Context) ([]storage.CommentStat, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	// LENGTH counts bytes on mysql; CHAR_LENGTH keeps the average in
	// characters across dialects.
	lengthFn := "LENGTH"
	if s.db.Dialector.Name() == "mysql" {
		lengthFn = "CHAR_LENGTH"
	}
	var out []storage.CommentStat
	err := s.tableDB().
		WithContext(ctx).
		Select(fmt.Sprintf("event_type AS event_type, COUNT(*) AS count, AVG(%s(comment_body)) AS avg_length", lengthFn)).
		Where("comment_body IS NOT NULL").
		Group("event_type").
		Order("count DESC").
		Scan(&out).Error
	return out, err
}

func (s *Store) filtered(ctx context.Context, filter storage.EventFilter) *gorm.DB {
	q := s.tableDB().WithContext(ctx)
	if filter.EventType != "" {
		q = q.Where("event_type = ?", filter.EventType)
	}
	if filter.RepositoryFullName != "" {
		q = q.Where("repo_full_name = ?", filter.RepositoryFullName)
	}
	return q
}

func (s *Store) migrate() error {
	return s.tableDB().AutoMigrate(&row{})
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func toRow(event storage.StoredEvent) row {
	return row{
		ID:                event.ID,
		DeliveryID:        event.DeliveryID,
		EventType:         event.EventType,
		Action:            event.Action,
		RepoName:          event.Repository.Name,
		RepoFullName:      event.Repository.FullName,
		RepoURL:           event.Repository.URL,
		RepoOwner:         event.Repository.Owner,
		SenderLogin:       event.Sender.Login,
		SenderAvatarURL:   event.Sender.AvatarURL,
		SenderURL:         event.Sender.URL,
		Branch:            event.Metadata.Branch,
		CommitSHA:         event.Metadata.CommitSHA,
		CommitMessage:     event.Metadata.CommitMessage,
		PullRequestNumber: event.Metadata.PullRequestNumber,
		IssueNumber:       event.Metadata.IssueNumber,
		PRTitle:           event.Metadata.PRTitle,
		PRBody:            event.Metadata.PRBody,
		MergeCommitSHA:    event.Metadata.MergeCommitSHA,
		CommentBody:       event.Metadata.CommentBody,
		ReviewState:       event.Metadata.ReviewState,
		ReviewBody:        event.Metadata.ReviewBody,
		RawPayload:        string(event.RawPayload),
		ReceivedAt:        event.ReceivedAt,
	}
}

func fromRow(data row) storage.StoredEvent {
	return storage.StoredEvent{
		ID:         data.ID,
		DeliveryID: data.DeliveryID,
		EventType:  data.EventType,
		Action:     data.Action,
		Repository: storage.RepositoryInfo{
			Name:     data.RepoName,
			FullName: data.RepoFullName,
			URL:      data.RepoURL,
			Owner:    data.RepoOwner,
		},
		Sender: storage.SenderInfo{
			Login:     data.SenderLogin,
			AvatarURL: data.SenderAvatarURL,
			URL:       data.SenderURL,
		},
		Metadata: storage.EventMetadata{
			Branch:            data.Branch,
			CommitSHA:         data.CommitSHA,
			CommitMessage:     data.CommitMessage,
			PullRequestNumber: data.PullRequestNumber,
			IssueNumber:       data.IssueNumber,
			PRTitle:           data.PRTitle,
			PRBody:            data.PRBody,
			MergeCommitSHA:    data.MergeCommitSHA,
			CommentBody:       data.CommentBody,
			ReviewState:       data.ReviewState,
			ReviewBody:        data.ReviewBody,
		},
		RawPayload: []byte(data.RawPayload),
		ReceivedAt: data.ReceivedAt,
	}
}

func fromRows(data []row) []storage.StoredEvent {
	events := make([]storage.StoredEvent, 0, len(data))
	for _, item := range data {
		events = append(events, fromRow(item))
	}
	return events
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
