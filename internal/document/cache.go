// Package document は所有者単位でコンテンツアドレス化された履歴書・求人のキャッシュを提供する。
//
// 同じ所有者が同じ入力を再送した場合、外部パーサー/フェッチャーを呼ばずに既存のドキュメントを返す。
// プロセス内の同時ミスはsingleflightで1回のパースにまとめ、プロセス間の競合は
// ストアの一意制約で検出して勝者の行を返す。
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/jobsync/internal/metrics"
	"github.com/hitoshi/jobsync/internal/model"
	"github.com/hitoshi/jobsync/internal/repository"
)

// DefaultParseTimeout は外部パーサー/フェッチャー呼び出しの既定のタイムアウト。
const DefaultParseTimeout = 2 * time.Minute

const maxTitleLength = 500

// ParseFunc は生入力から構造化ドキュメントを生成する外部処理。キャッシュミス時にのみ呼ばれる。
type ParseFunc func(ctx context.Context, raw []byte) (model.Payload, error)

// Config はドキュメントキャッシュの設定。
type Config struct {
	ParseTimeout time.Duration
}

// Result はGetOrCreateResultの結果。
type Result struct {
	Document *model.Document
	// Created はこの呼び出し（または合流したsingleflight）で新規作成されたことを示す。
	Created bool
}

// Cache はドキュメントの取得または作成を行う。
type Cache struct {
	repo    repository.DocumentRepository
	config  Config
	metrics metrics.MetricsCollector
	group   singleflight.Group
	now     func() time.Time
}

// NewCache はCacheを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewCache(repo repository.DocumentRepository, config Config, collector metrics.MetricsCollector) *Cache {
	if config.ParseTimeout <= 0 {
		config.ParseTimeout = DefaultParseTimeout
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Cache{
		repo:    repo,
		config:  config,
		metrics: collector,
		now:     time.Now,
	}
}

// GetOrCreate は(ownerID, kind, SourceHash(raw))に一致するドキュメントを返す。
// 存在しない場合はparseを呼び出して結果を保存する。
func (c *Cache) GetOrCreate(ctx context.Context, ownerID string, kind model.DocumentKind, raw []byte, parse ParseFunc) (*model.Document, error) {
	res, err := c.GetOrCreateResult(ctx, ownerID, kind, raw, parse)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

// GetOrCreateResult はGetOrCreateと同じ処理を行い、新規作成されたかどうかも返す。
//
// 呼び出し元のctxがパース中に終了した場合はmodel.ErrOperationTimeoutを返す。
// パースはキャンセルされずにParseTimeoutまで継続し、成功すれば結果は保存される。
func (c *Cache) GetOrCreateResult(ctx context.Context, ownerID string, kind model.DocumentKind, raw []byte, parse ParseFunc) (*Result, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown document kind: %q", kind)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner ID is required")
	}

	hash := SourceHash(kind, raw)

	doc, err := c.findBySourceHash(ctx, kind, ownerID, hash)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		c.metrics.RecordDocumentLookup(string(kind), metrics.ResultHit)
		return &Result{Document: doc}, nil
	}

	key := ownerID + "\x00" + string(kind) + "\x00" + hash
	ch := c.group.DoChan(key, func() (any, error) {
		return c.create(context.WithoutCancel(ctx), ownerID, kind, hash, raw, parse)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		shared := r.Val.(*Result)
		// 合流した呼び出し元同士でドキュメントを共有しない
		d := *shared.Document
		return &Result{Document: &d, Created: shared.Created}, nil
	case <-ctx.Done():
		slog.Warn("caller gave up waiting for document creation",
			slog.String("owner_id", ownerID),
			slog.String("kind", string(kind)),
		)
		return nil, fmt.Errorf("waiting for %s parse: %w", kind, model.ErrOperationTimeout)
	}
}

// create はsingleflightの中で1回だけ実行される。ctxは呼び出し元から切り離されている。
func (c *Cache) create(ctx context.Context, ownerID string, kind model.DocumentKind, hash string, raw []byte, parse ParseFunc) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ParseTimeout)
	defer cancel()

	// 直前に終了したフライトや他プロセスが書き込んでいる可能性があるため再確認する
	existing, err := c.findBySourceHash(ctx, kind, ownerID, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		c.metrics.RecordDocumentLookup(string(kind), metrics.ResultHit)
		return &Result{Document: existing}, nil
	}

	c.metrics.RecordDocumentLookup(string(kind), metrics.ResultMiss)

	start := time.Now()
	payload, err := parse(ctx, raw)
	c.metrics.RecordParseLatency(string(kind), time.Since(start))
	if err != nil {
		slog.Warn("document parse failed",
			slog.String("owner_id", ownerID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, &model.DocumentCreationError{Kind: kind, Err: err}
	}
	if payload == nil || payload.Kind() != kind {
		return nil, &model.DocumentCreationError{Kind: kind, Err: model.ErrUnsupportedPayload}
	}

	encoded, err := EncodePayload(payload)
	if err != nil {
		return nil, &model.DocumentCreationError{Kind: kind, Err: err}
	}

	doc := &model.Document{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		Kind:       kind,
		SourceHash: hash,
		Title:      truncate(payload.DisplayName(), maxTitleLength),
		RawPayload: encoded,
		Payload:    payload,
		CreatedAt:  c.now(),
	}

	if err := c.repo.Insert(ctx, doc); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to save %s document: %w", kind, err)
		}

		// 他プロセスとの競合に負けた。勝者の行を返す
		c.metrics.RecordDocumentLookup(string(kind), metrics.ResultRace)
		winner, err := c.findBySourceHash(ctx, kind, ownerID, hash)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, fmt.Errorf("%s document vanished after duplicate insert", kind)
		}
		slog.Info("document insert lost race, returning existing row",
			slog.String("owner_id", ownerID),
			slog.String("kind", string(kind)),
			slog.String("document_id", winner.ID),
		)
		return &Result{Document: winner}, nil
	}

	slog.Info("document created",
		slog.String("owner_id", ownerID),
		slog.String("kind", string(kind)),
		slog.String("document_id", doc.ID),
	)
	return &Result{Document: doc, Created: true}, nil
}

// Get は所有者を確認した上でドキュメントを返す。
func (c *Cache) Get(ctx context.Context, ownerID string, kind model.DocumentKind, id string) (*model.Document, error) {
	doc, err := c.Load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, model.ErrDocumentNotFound
	}
	if doc.OwnerID != ownerID {
		return nil, model.ErrOwnershipMismatch
	}
	return doc, nil
}

// Load はIDでドキュメントを読み出してペイロードを復元する。所有者は確認しない。見つからない場合はnilを返す。
func (c *Cache) Load(ctx context.Context, kind model.DocumentKind, id string) (*model.Document, error) {
	doc, err := c.repo.FindByID(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s document: %w", kind, err)
	}
	if doc == nil {
		return nil, nil
	}
	if err := decodeInto(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Cache) findBySourceHash(ctx context.Context, kind model.DocumentKind, ownerID, hash string) (*model.Document, error) {
	doc, err := c.repo.FindBySourceHash(ctx, kind, ownerID, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s document: %w", kind, err)
	}
	if doc == nil {
		return nil, nil
	}
	if err := decodeInto(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeInto(doc *model.Document) error {
	payload, err := DecodePayload(doc.Kind, doc.RawPayload)
	if err != nil {
		return fmt.Errorf("failed to decode stored %s document %s: %w", doc.Kind, doc.ID, err)
	}
	doc.Payload = payload
	return nil
}

// truncate は文字列をmaxRunes文字以内に切り詰める。
func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}
