package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/jobsync/internal/model"
)

// ErrDuplicate は一意制約違反（SQLSTATE 23505）を表す。
var ErrDuplicate = errors.New("duplicate key")

const sqlStateUniqueViolation = "23505"

// classify はドライバのエラーをリポジトリ層のエラーに変換する。
// 呼び出し元のコンテキスト終了はErrOperationTimeoutに、接続系の障害はStorageUnavailableErrorに、
// 一意制約違反はErrDuplicateに変換し、それ以外はopを付けてラップする。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	// context.DeadlineExceededはnet.Errorを満たすため、接続障害の判定より先に見る
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrOperationTimeout, err)
	}
	if isConnectionError(err) {
		return &model.StorageUnavailableError{Op: op, Err: err}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == sqlStateUniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// isConnectionError はリトライで回復しうるストア接続障害かを判定する。
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case strings.HasPrefix(code, "08"): // connection_exception
			return true
		case strings.HasPrefix(code, "53"): // insufficient_resources
			return true
		case code == "57P01" || code == "57P02" || code == "57P03": // admin/crash shutdown, cannot_connect_now
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
