package token

import (
	"context"
	"sync"
	"time"
)

// DefaultLockIdleTTL は未使用のロックエントリを保持する既定の期間。
const DefaultLockIdleTTL = 10 * time.Minute

// lockEntry はキーごとの1スロットのセマフォと参照カウント。
type lockEntry struct {
	sem        chan struct{}
	refs       int
	lastAccess time.Time
}

// LockTable はキー（principal_id）ごとの排他ロックを管理する。
// 異なるキー同士は互いにブロックしない。
// 参照されておらず、最終アクセスからidleTTLを超えたエントリはバックグラウンドで削除される。
type LockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	idleTTL time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLockTable は新しいLockTableを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewLockTable(idleTTL time.Duration) *LockTable {
	if idleTTL <= 0 {
		idleTTL = DefaultLockIdleTTL
	}
	lt := &LockTable{
		entries: make(map[string]*lockEntry),
		idleTTL: idleTTL,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	go lt.cleanupLoop()

	return lt
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (lt *LockTable) Stop() {
	lt.stopOnce.Do(func() { close(lt.stopCh) })
}

// Acquire はkeyのロックを取得し、解放関数を返す。
// ctxが終了するまでに取得できなかった場合はctx.Err()を返す。
// 解放関数は1回だけ呼び出すこと。
func (lt *LockTable) Acquire(ctx context.Context, key string) (func(), error) {
	e := lt.ref(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		lt.unref(e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			lt.unref(e)
		})
	}, nil
}

// Len は現在管理されているエントリ数を返す。jobsync_token_lock_entriesゲージが参照する。
func (lt *LockTable) Len() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.entries)
}

func (lt *LockTable) ref(key string) *lockEntry {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	e, ok := lt.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		lt.entries[key] = e
	}
	e.refs++
	e.lastAccess = lt.now()
	return e
}

func (lt *LockTable) unref(e *lockEntry) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	e.refs--
	e.lastAccess = lt.now()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (lt *LockTable) cleanupLoop() {
	ticker := time.NewTicker(lt.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lt.sweep()
		case <-lt.stopCh:
			return
		}
	}
}

// sweep は参照がなく、最終アクセスからidleTTLを超えたエントリを削除し、削除件数を返す。
// 参照中のエントリは削除しないため、待機中・保持中のロックが別インスタンスに置き換わることはない。
func (lt *LockTable) sweep() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	now := lt.now()
	removed := 0
	for key, e := range lt.entries {
		if e.refs == 0 && now.Sub(e.lastAccess) > lt.idleTTL {
			delete(lt.entries, key)
			removed++
		}
	}
	return removed
}
