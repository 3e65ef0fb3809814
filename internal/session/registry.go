// Package session は履歴書と求人のペアを束ねるセッションを管理する。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/jobsync/internal/model"
	"github.com/hitoshi/jobsync/internal/repository"
)

// DocumentLoader はIDでドキュメントを読み出す。見つからない場合はnilを返す。
// document.Cacheが実装する。
type DocumentLoader interface {
	Load(ctx context.Context, kind model.DocumentKind, id string) (*model.Document, error)
}

// Registry はセッションの作成と解決を行う。
type Registry struct {
	repo      repository.SessionRepository
	documents DocumentLoader
	now       func() time.Time
}

// NewRegistry はRegistryを生成する。
func NewRegistry(repo repository.SessionRepository, documents DocumentLoader) *Registry {
	return &Registry{
		repo:      repo,
		documents: documents,
		now:       time.Now,
	}
}

// Create は所有者の履歴書と求人を束ねたセッションを作成する。
// ttlが0以下の場合は期限を設定しない。
func (r *Registry) Create(ctx context.Context, ownerID, resumeID, vacancyID string, ttl time.Duration) (*model.Session, error) {
	if _, err := r.loadOwned(ctx, ownerID, model.DocumentKindResume, resumeID); err != nil {
		return nil, err
	}
	if _, err := r.loadOwned(ctx, ownerID, model.DocumentKindVacancy, vacancyID); err != nil {
		return nil, err
	}

	now := r.now()
	s := &model.Session{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		ResumeID:  resumeID,
		VacancyID: vacancyID,
		CreatedAt: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		s.ExpiresAt = &expiresAt
	}

	if err := r.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("session created",
		slog.String("session_id", s.ID),
		slog.String("owner_id", ownerID),
	)
	return s, nil
}

// Resolve はセッションが参照する履歴書と求人を返す。
// 所有者の確認は期限切れの確認より先に行う。
func (r *Registry) Resolve(ctx context.Context, sessionID, ownerID string) (*model.Document, *model.Document, error) {
	resolved, err := r.Get(ctx, sessionID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	return resolved.Resume, resolved.Vacancy, nil
}

// Get はResolveと同じ検証を行い、セッション本体も含めて返す。
func (r *Registry) Get(ctx context.Context, sessionID, ownerID string) (*model.ResolvedSession, error) {
	s, err := r.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if s == nil {
		return nil, model.ErrSessionNotFound
	}
	if s.OwnerID != ownerID {
		return nil, model.ErrOwnershipMismatch
	}
	if s.IsExpired(r.now()) {
		return nil, model.ErrSessionExpired
	}

	resume, err := r.loadOwned(ctx, ownerID, model.DocumentKindResume, s.ResumeID)
	if err != nil {
		return nil, err
	}
	vacancy, err := r.loadOwned(ctx, ownerID, model.DocumentKindVacancy, s.VacancyID)
	if err != nil {
		return nil, err
	}
	return &model.ResolvedSession{Session: s, Resume: resume, Vacancy: vacancy}, nil
}

func (r *Registry) loadOwned(ctx context.Context, ownerID string, kind model.DocumentKind, id string) (*model.Document, error) {
	doc, err := r.documents.Load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%s %s: %w", kind, id, model.ErrDocumentNotFound)
	}
	if doc.OwnerID != ownerID {
		return nil, fmt.Errorf("%s %s: %w", kind, id, model.ErrOwnershipMismatch)
	}
	return doc, nil
}
