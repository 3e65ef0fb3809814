package vacancy

import (
	"context"

	"github.com/hitoshi/jobsync/internal/document"
	"github.com/hitoshi/jobsync/internal/model"
)

// DocumentStore はドキュメントキャッシュ。document.Cacheが実装する。
type DocumentStore interface {
	GetOrCreateResult(ctx context.Context, ownerID string, kind model.DocumentKind, raw []byte, parse document.ParseFunc) (*document.Result, error)
}

// Service は求人ソースを正規化してドキュメントキャッシュに登録する。
type Service struct {
	cache   DocumentStore
	fetcher *Fetcher
}

// NewService はServiceを生成する。
func NewService(cache DocumentStore, fetcher *Fetcher) *Service {
	return &Service{cache: cache, fetcher: fetcher}
}

// Submit はsource（求人IDまたはURL）の求人を取得または作成する。
// 同じ求人を指すsourceは所有者ごとに1つのドキュメントになる。
func (s *Service) Submit(ctx context.Context, ownerID, source string) (*document.Result, error) {
	id, err := CanonicalID(source)
	if err != nil {
		return nil, err
	}
	return s.cache.GetOrCreateResult(ctx, ownerID, model.DocumentKindVacancy, []byte(id), s.fetcher.ParseFunc(ownerID))
}

var _ Submitter = (*Service)(nil)
