// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package devmgr

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/q191201771/lalgb/pkg/base"
	_ "modernc.org/sqlite"
)

var schemaStatements = []string{
	`PRAGMA journal_mode=WAL`,
	`CREATE TABLE IF NOT EXISTS device (
		device_id    TEXT PRIMARY KEY,
		parent_id    TEXT NOT NULL DEFAULT '',
		domain_id    TEXT NOT NULL DEFAULT '',
		name         TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		model        TEXT NOT NULL DEFAULT '',
		owner        TEXT NOT NULL DEFAULT '',
		civil_code   TEXT NOT NULL DEFAULT '',
		address      TEXT NOT NULL DEFAULT '',
		ipaddr       TEXT NOT NULL DEFAULT '',
		user         TEXT NOT NULL DEFAULT '',
		pass         TEXT NOT NULL DEFAULT '',
		longitude    TEXT NOT NULL DEFAULT '',
		latitude     TEXT NOT NULL DEFAULT '',
		port         INTEGER NOT NULL DEFAULT 0,
		url          TEXT NOT NULL DEFAULT '',
		ptz_type     INTEGER NOT NULL DEFAULT 0,
		type         INTEGER NOT NULL DEFAULT 0,
		protocol     INTEGER NOT NULL DEFAULT 0,
		bind_ip      TEXT NOT NULL DEFAULT '',
		remark       TEXT NOT NULL DEFAULT '',
		updated_at   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_domain ON device(domain_id)`,
	`CREATE TABLE IF NOT EXISTS net_map (
		from_ip TEXT PRIMARY KEY,
		to_ip   TEXT NOT NULL
	)`,
}

const deviceColumns = `device_id, parent_id, domain_id, name, status, manufacturer, model, owner, civil_code, address,
	ipaddr, user, pass, longitude, latitude, port, url, ptz_type, type, protocol, bind_ip, remark`

// SqliteStore 使用 modernc.org/sqlite（纯 go，无需 cgo）
type SqliteStore struct {
	db   *sql.DB
	path string
}

var _ IStore = &SqliteStore{}

// OpenSqliteStore path 为 ":memory:" 时使用内存库，测试用
func OpenSqliteStore(path string) (*SqliteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, base.ErrDbNotOpen
	}

	var dsn string
	if path == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite 单写，连接数放大没有意义。内存库也依赖单连接常驻
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SqliteStore{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	Log.Infof("open sqlite store. path=%s", path)
	return s, nil
}

func (s *SqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SqliteStore) LoadDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM device ORDER BY device_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ret []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.DeviceId, &d.ParentId, &d.DomainId, &d.Name, &d.Status, &d.Manufacturer, &d.Model,
			&d.Owner, &d.CivilCode, &d.Address, &d.IpAddr, &d.User, &d.Pass, &d.Longitude, &d.Latitude, &d.Port,
			&d.Url, &d.PtzType, &d.Type, &d.Protocol, &d.BindIp, &d.Remark); err != nil {
			return nil, err
		}
		ret = append(ret, d)
	}
	return ret, rows.Err()
}

func (s *SqliteStore) UpsertDevice(ctx context.Context, d Device) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO device (`+deviceColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			parent_id=excluded.parent_id, domain_id=excluded.domain_id, name=excluded.name, status=excluded.status,
			manufacturer=excluded.manufacturer, model=excluded.model, owner=excluded.owner,
			civil_code=excluded.civil_code, address=excluded.address, ipaddr=excluded.ipaddr, user=excluded.user,
			pass=excluded.pass, longitude=excluded.longitude, latitude=excluded.latitude, port=excluded.port,
			url=excluded.url, ptz_type=excluded.ptz_type, type=excluded.type, protocol=excluded.protocol,
			bind_ip=excluded.bind_ip, remark=excluded.remark, updated_at=excluded.updated_at`,
		d.DeviceId, d.ParentId, d.DomainId, d.Name, d.Status, d.Manufacturer, d.Model, d.Owner, d.CivilCode,
		d.Address, d.IpAddr, d.User, d.Pass, d.Longitude, d.Latitude, d.Port, d.Url, d.PtzType, int(d.Type),
		int(d.Protocol), d.BindIp, d.Remark, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SqliteStore) DeleteDevices(ctx context.Context, ids []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM device WHERE device_id=?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SqliteStore) LoadNetMap(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_ip, to_ip FROM net_map`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[string]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		ret[from] = to
	}
	return ret, rows.Err()
}

func (s *SqliteStore) SaveNetMap(ctx context.Context, from, to string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO net_map (from_ip, to_ip) VALUES (?, ?)
		ON CONFLICT(from_ip) DO UPDATE SET to_ip=excluded.to_ip`, from, to)
	return err
}

func (s *SqliteStore) DeleteNetMap(ctx context.Context, from string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM net_map WHERE from_ip=?`, from)
	return err
}

func (s *SqliteStore) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate failed. stmt=%s, err=%w", firstLine(stmt), err)
		}
	}
	return nil
}

func (s *SqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
