package cow

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"synapsedb.dev/synapsedb/blob"
)

// commitLogRow is the gorm model backing the optional Postgres commit
// log mirror: a convenience index for "what commits exist on this
// branch" queries (dashboards, audit views) that would otherwise require
// walking the parent chain object by object. It is never the source of
// truth — RefManager and the object store are — and a write here failing
// must never fail or block a commit.
type commitLogRow struct {
	CommitHash    string `gorm:"primaryKey;column:commit_hash"`
	Branch        string `gorm:"index;column:branch"`
	ParentHash    string `gorm:"column:parent_hash"`
	TreeHash      string `gorm:"column:tree_hash"`
	Author        string `gorm:"column:author"`
	Message       string `gorm:"column:message"`
	EntityCount   int    `gorm:"column:entity_count"`
	RelationCount int    `gorm:"column:relation_count"`
	Timestamp     time.Time `gorm:"index;column:commit_timestamp"`
}

func (commitLogRow) TableName() string { return "synapsedb_commit_log" }

// PostgresCommitLog mirrors committed history into Postgres so read-path
// tooling can query "recent commits on branch X" with SQL instead of
// walking the blob store. Commit() on Manager does not depend on this;
// callers that want the mirror invoke RecordCommit alongside it.
type PostgresCommitLog struct {
	db *gorm.DB
}

func NewPostgresCommitLog(dsn string) (*PostgresCommitLog, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("cow: opening postgres commit log: %w", err)
	}
	if err := db.AutoMigrate(&commitLogRow{}); err != nil {
		return nil, fmt.Errorf("cow: migrating postgres commit log: %w", err)
	}
	return &PostgresCommitLog{db: db}, nil
}

// RecordCommit upserts a mirror row for a commit just written to the
// object store. Best-effort: callers should log and continue on error
// rather than treat it as a commit failure.
func (p *PostgresCommitLog) RecordCommit(ctx context.Context, branch string, h blob.Hash, c *Commit) error {
	row := commitLogRow{
		CommitHash:    h.String(),
		Branch:        branch,
		ParentHash:    c.ParentHash.String(),
		TreeHash:      c.TreeHash.String(),
		Author:        c.Author,
		Message:       c.Message,
		EntityCount:   c.EntityCount,
		RelationCount: c.RelationCount,
		Timestamp:     c.Timestamp,
	}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "commit_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"branch", "message", "entity_count", "relation_count"}),
		}).
		Create(&row).Error
}

// RecentCommits returns the most recent limit commits recorded for
// branch, newest first, without touching the object store at all.
func (p *PostgresCommitLog) RecentCommits(ctx context.Context, branch string, limit int) ([]commitLogRow, error) {
	var rows []commitLogRow
	err := p.db.WithContext(ctx).
		Where("branch = ?", branch).
		Order("commit_timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("cow: querying postgres commit log: %w", err)
	}
	return rows, nil
}

func (p *PostgresCommitLog) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
