// Package mas is the metadata index of ingested acquisitions: one row
// per scene and one per band file, in SQLite or Postgres.
package mas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/nci/s2dash/crawl/extractor"
	"github.com/nci/s2dash/utils"
	_ "modernc.org/sqlite"
)

var ErrNotFound = fmt.Errorf("scene %w", utils.ErrTimeNotFound)

type Index struct {
	DB     *sql.DB
	driver string
}

// Open connects to the index database and ensures its schema. driver
// is "sqlite" (dsn is a file path or ":memory:") or "postgres".
func Open(driver, dsn string) (*Index, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported index driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// ":memory:" databases live as long as their one connection
		db.SetMaxOpenConns(1)
	}

	idx := &Index{DB: db, driver: driver}
	if err := idx.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) Close() error {
	if idx == nil || idx.DB == nil {
		return nil
	}
	return idx.DB.Close()
}

// rebind rewrites ? placeholders as $n for postgres.
func (idx *Index) rebind(query string) string {
	if idx.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func (idx *Index) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scenes (
            collection TEXT NOT NULL,
            time_stamp TEXT NOT NULL,
            file_name TEXT NOT NULL,
            driver TEXT,
            polygon TEXT,
            file_id TEXT,
            PRIMARY KEY (collection, time_stamp)
        );`,
		`CREATE TABLE IF NOT EXISTS datasets (
            collection TEXT NOT NULL,
            time_stamp TEXT NOT NULL,
            namespace TEXT NOT NULL,
            ds_name TEXT NOT NULL,
            array_type TEXT NOT NULL,
            x_size INTEGER,
            y_size INTEGER,
            nodata REAL,
            PRIMARY KEY (collection, time_stamp, namespace)
        );`,
	}
	for _, stmt := range stmts {
		if _, err := idx.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ingest inserts or replaces the scene described by gf.
func (idx *Index) Ingest(ctx context.Context, collection string, gf *extractor.GeoFile) error {
	ts := gf.TimeStamp.UTC().Format(utils.ISOFormat)
	fileID := ""
	if gf.PosixInfo != nil {
		fileID = gf.PosixInfo.ID
	}

	tx, err := idx.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, idx.rebind(`INSERT INTO scenes (collection, time_stamp, file_name, driver, polygon, file_id)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (collection, time_stamp) DO UPDATE SET
            file_name = excluded.file_name, driver = excluded.driver,
            polygon = excluded.polygon, file_id = excluded.file_id`),
		collection, ts, gf.FileName, gf.Driver, gf.Polygon, fileID)
	if err != nil {
		return fmt.Errorf("ingest %s: %v", gf.FileName, err)
	}

	if _, err = tx.ExecContext(ctx, idx.rebind(`DELETE FROM datasets WHERE collection = ? AND time_stamp = ?`), collection, ts); err != nil {
		return err
	}

	for _, ds := range gf.DataSets {
		_, err = tx.ExecContext(ctx, idx.rebind(`INSERT INTO datasets (collection, time_stamp, namespace, ds_name, array_type, x_size, y_size, nodata)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			collection, ts, ds.NameSpace, ds.DataSetName, ds.Type, ds.XSize, ds.YSize, ds.NoData)
		if err != nil {
			return fmt.Errorf("ingest %s band %s: %v", gf.FileName, ds.NameSpace, err)
		}
	}
	return tx.Commit()
}

func parseTimes(rows *sql.Rows) ([]time.Time, error) {
	defer rows.Close()
	var times []time.Time
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		t, err := time.Parse(utils.ISOFormat, ts)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// Times lists the acquisition times of a collection in ascending
// order. A zero since or until leaves that end open.
func (idx *Index) Times(ctx context.Context, collection string, since, until time.Time) ([]time.Time, error) {
	query := `SELECT time_stamp FROM scenes WHERE collection = ?`
	args := []interface{}{collection}
	if !since.IsZero() {
		query += ` AND time_stamp >= ?`
		args = append(args, since.UTC().Format(utils.ISOFormat))
	}
	if !until.IsZero() {
		query += ` AND time_stamp <= ?`
		args = append(args, until.UTC().Format(utils.ISOFormat))
	}
	query += ` ORDER BY time_stamp`

	rows, err := idx.DB.QueryContext(ctx, idx.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return parseTimes(rows)
}

// Lookup rebuilds the metadata document of the scene acquired at t.
func (idx *Index) Lookup(ctx context.Context, collection string, t time.Time) (*extractor.GeoFile, error) {
	ts := t.UTC().Format(utils.ISOFormat)
	gf := &extractor.GeoFile{TimeStamp: t.UTC(), PosixInfo: &extractor.PosixInfo{}}

	var driver, polygon, fileID sql.NullString
	err := idx.DB.QueryRowContext(ctx, idx.rebind(`SELECT file_name, driver, polygon, file_id FROM scenes WHERE collection = ? AND time_stamp = ?`),
		collection, ts).Scan(&gf.FileName, &driver, &polygon, &fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, collection, ts)
	}
	if err != nil {
		return nil, err
	}
	gf.Driver, gf.Polygon = driver.String, polygon.String
	gf.PosixInfo.FilePath, gf.PosixInfo.ID = gf.FileName, fileID.String

	rows, err := idx.DB.QueryContext(ctx, idx.rebind(`SELECT namespace, ds_name, array_type, x_size, y_size, nodata
        FROM datasets WHERE collection = ? AND time_stamp = ? ORDER BY namespace`), collection, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		ds := &extractor.GeoMetaData{RasterCount: 1, TimeStamps: []time.Time{gf.TimeStamp}, Polygon: gf.Polygon}
		var noData sql.NullFloat64
		if err := rows.Scan(&ds.NameSpace, &ds.DataSetName, &ds.Type, &ds.XSize, &ds.YSize, &noData); err != nil {
			return nil, err
		}
		ds.NoData = noData.Float64
		gf.DataSets = append(gf.DataSets, ds)
	}
	return gf, rows.Err()
}

// GeoFiles returns every scene of a collection in time order.
func (idx *Index) GeoFiles(ctx context.Context, collection string) ([]*extractor.GeoFile, error) {
	times, err := idx.Times(ctx, collection, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	geoFiles := make([]*extractor.GeoFile, 0, len(times))
	for _, t := range times {
		gf, err := idx.Lookup(ctx, collection, t)
		if err != nil {
			return nil, err
		}
		geoFiles = append(geoFiles, gf)
	}
	return geoFiles, nil
}

// SceneStore opens the scenes of a collection as a lazily read store.
func (idx *Index) SceneStore(ctx context.Context, collection string, bands []string) (*utils.LazyStore, error) {
	geoFiles, err := idx.GeoFiles(ctx, collection)
	if err != nil {
		return nil, err
	}
	return extractor.NewSceneStore(geoFiles, bands)
}
