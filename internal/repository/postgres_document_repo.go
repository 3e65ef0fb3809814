package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/jobsync/internal/model"
)

// documentTable は種別ごとのテーブル名と表示名カラム。
type documentTable struct {
	name        string
	titleColumn string
}

var documentTables = map[model.DocumentKind]documentTable{
	model.DocumentKindResume:  {name: "resume_docs", titleColumn: "title"},
	model.DocumentKindVacancy: {name: "vacancy_docs", titleColumn: "name"},
}

func tableFor(kind model.DocumentKind) (documentTable, error) {
	t, ok := documentTables[kind]
	if !ok {
		return documentTable{}, fmt.Errorf("unknown document kind: %q", kind)
	}
	return t, nil
}

// PostgresDocumentRepo はPostgreSQLを使用したドキュメントリポジトリ。
// 履歴書と求人は別テーブルに保存されるが、同一の形状で扱う。
type PostgresDocumentRepo struct {
	db *sql.DB
}

// NewPostgresDocumentRepo はPostgresDocumentRepoを生成する。
func NewPostgresDocumentRepo(db *sql.DB) *PostgresDocumentRepo {
	return &PostgresDocumentRepo{db: db}
}

// Insert はドキュメントを作成する。
// (owner_id, source_hash)が既に存在する場合はErrDuplicateを返す。
func (r *PostgresDocumentRepo) Insert(ctx context.Context, doc *model.Document) error {
	t, err := tableFor(doc.Kind)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, owner_id, source_hash, %s, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`, t.name, t.titleColumn),
		doc.ID, doc.OwnerID, doc.SourceHash, doc.Title, doc.RawPayload, doc.CreatedAt,
	)
	return classify("insert "+string(doc.Kind)+" document", err)
}

// FindBySourceHash は所有者とハッシュでドキュメントを検索する。見つからない場合はnilを返す。
func (r *PostgresDocumentRepo) FindBySourceHash(ctx context.Context, kind model.DocumentKind, ownerID, sourceHash string) (*model.Document, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	return r.findOne(ctx, kind,
		fmt.Sprintf(`SELECT id, owner_id, source_hash, %s, payload, created_at
		 FROM %s
		 WHERE owner_id = $1 AND source_hash = $2`, t.titleColumn, t.name),
		ownerID, sourceHash,
	)
}

// FindByID は指定IDのドキュメントを取得する。見つからない場合はnilを返す。
func (r *PostgresDocumentRepo) FindByID(ctx context.Context, kind model.DocumentKind, id string) (*model.Document, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	return r.findOne(ctx, kind,
		fmt.Sprintf(`SELECT id, owner_id, source_hash, %s, payload, created_at
		 FROM %s
		 WHERE id = $1`, t.titleColumn, t.name),
		id,
	)
}

func (r *PostgresDocumentRepo) findOne(ctx context.Context, kind model.DocumentKind, query string, args ...any) (*model.Document, error) {
	doc := &model.Document{Kind: kind}
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&doc.ID, &doc.OwnerID, &doc.SourceHash, &doc.Title, &doc.RawPayload, &doc.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find "+string(kind)+" document", err)
	}

	return doc, nil
}

// compile-time interface check
var _ DocumentRepository = (*PostgresDocumentRepo)(nil)
