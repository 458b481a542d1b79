package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open はlib/pqドライバーでPostgreSQL接続プールを開く。
// サーバー・ワーカーともプロセスで1つの*sql.DBを共有し、終了時にCloseする。
// sql.Openは接続を試行しないため、疎通確認にはdb.PingContext()を使用すること。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}
