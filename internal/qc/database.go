package qc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const reportBucketName = "reports"

// ErrReportNotFound is returned for unknown report IDs
var ErrReportNotFound = errors.New("report not found")

// DB defines the interface for report history operations
type DB interface {
	// SaveReport saves a report to the database
	SaveReport(report *StoredReport) error

	// GetReport retrieves a report by ID
	GetReport(id string) (*StoredReport, error)

	// ListReports returns all reports, newest first
	ListReports() ([]*StoredReport, error)

	// DeleteReport removes a report from the database
	DeleteReport(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens or creates the report database at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(reportBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveReport stores a report under its ID, replacing any previous version
func (b *BoltDB) SaveReport(report *StoredReport) error {
	if report.ID == "" {
		return fmt.Errorf("report ID is required")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(reportBucketName)).Put([]byte(report.ID), data)
	})
}

// GetReport retrieves a report by ID
func (b *BoltDB) GetReport(id string) (*StoredReport, error) {
	var report *StoredReport
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(reportBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrReportNotFound, id)
		}
		var err error
		report, err = decodeReport(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ListReports returns all reports, newest first
func (b *BoltDB) ListReports() ([]*StoredReport, error) {
	reports := make([]*StoredReport, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(reportBucketName)).ForEach(func(k, v []byte) error {
			report, err := decodeReport(v)
			if err != nil {
				return fmt.Errorf("unmarshaling report %s: %w", k, err)
			}
			reports = append(reports, report)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
	return reports, nil
}

// DeleteReport removes a report. Deleting an unknown ID is not an error.
func (b *BoltDB) DeleteReport(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(reportBucketName)).Delete([]byte(id))
	})
}

// decodeReport keeps numeric invoice IDs as their literal JSON text
func decodeReport(data []byte) (*StoredReport, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var report StoredReport
	if err := dec.Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
