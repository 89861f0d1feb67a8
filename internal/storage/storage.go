package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/L1nMay/vulnorch/internal/model"
)

const (
	bucketScans      = "scans"
	bucketResults    = "results"
	bucketOwnerScans = "owner_scans"
	bucketAssets     = "assets"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	// ErrTerminal rejects any write to a record that already reached a terminal status.
	ErrTerminal = errors.New("scan already in a terminal state")
)

// ScanStore is the single source of truth for scan records.
type ScanStore interface {
	// CreateScan stores a new record and indexes it under its owner in one transaction.
	CreateScan(rec *model.ScanRecord) error
	// GetScan returns the record without its final report.
	GetScan(id string) (*model.ScanRecord, error)
	// UpdateScan is a read-modify-write of one record. A non-nil rec.Results
	// is split off into the results key in the same transaction.
	UpdateScan(id string, fn func(rec *model.ScanRecord) error) (*model.ScanRecord, error)
	GetResults(id string) (*model.Report, error)
	// ListScansByOwner returns the owner's scans, newest start first.
	ListScansByOwner(ownerID string) ([]model.ScanRecord, error)
	Close() error
}

// AssetDirectory is the read side of the per-organization asset inventory.
type AssetDirectory interface {
	PutAsset(a model.Asset) error
	ListAssets(orgID string) ([]model.Asset, error)
}

type Storage struct {
	db *bbolt.DB
}

func NewStorage(dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketScans, bucketResults, bucketOwnerScans, bucketAssets} {
			if _, e := tx.CreateBucketIfNotExists([]byte(name)); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func bucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("bucket %s not found", name)
	}
	return b, nil
}

func (s *Storage) CreateScan(rec *model.ScanRecord) error {
	if rec.Results != nil {
		return errors.New("new scan cannot carry results")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		scans, err := bucket(tx, bucketScans)
		if err != nil {
			return err
		}
		if scans.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("scan %s: %w", rec.ID, ErrExists)
		}
		if err := scans.Put([]byte(rec.ID), data); err != nil {
			return err
		}

		owners, err := bucket(tx, bucketOwnerScans)
		if err != nil {
			return err
		}
		idx, err := owners.CreateBucketIfNotExists([]byte(rec.OwnerID))
		if err != nil {
			return err
		}
		return idx.Put([]byte(rec.ID), []byte(rec.StartTime.UTC().Format(time.RFC3339Nano)))
	})
}

func (s *Storage) GetScan(id string) (*model.ScanRecord, error) {
	var rec *model.ScanRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketScans)
		if err != nil {
			return err
		}
		r, err := decodeScan(b.Get([]byte(id)))
		if err != nil {
			return fmt.Errorf("scan %s: %w", id, err)
		}
		rec = r
		return nil
	})
	return rec, err
}

func decodeScan(v []byte) (*model.ScanRecord, error) {
	if v == nil {
		return nil, ErrNotFound
	}
	var r model.ScanRecord
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// applyUpdate holds the rules shared by every backend: terminal records are
// frozen, and results only travel with the transition to completed.
func applyUpdate(cur *model.ScanRecord, fn func(rec *model.ScanRecord) error) (rec []byte, results []byte, out *model.ScanRecord, err error) {
	if cur.Status.Terminal() {
		return nil, nil, nil, fmt.Errorf("scan %s is %s: %w", cur.ID, cur.Status, ErrTerminal)
	}
	id, owner := cur.ID, cur.OwnerID
	if err := fn(cur); err != nil {
		return nil, nil, nil, err
	}
	cur.ID, cur.OwnerID = id, owner

	if cur.Results != nil {
		if cur.Status != model.StatusCompleted {
			return nil, nil, nil, fmt.Errorf("scan %s: results require status %s", cur.ID, model.StatusCompleted)
		}
		results, err = json.Marshal(cur.Results)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	stored := *cur
	stored.Results = nil
	rec, err = json.Marshal(&stored)
	if err != nil {
		return nil, nil, nil, err
	}
	return rec, results, cur, nil
}

func (s *Storage) UpdateScan(id string, fn func(rec *model.ScanRecord) error) (*model.ScanRecord, error) {
	var out *model.ScanRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		scans, err := bucket(tx, bucketScans)
		if err != nil {
			return err
		}
		cur, err := decodeScan(scans.Get([]byte(id)))
		if err != nil {
			return fmt.Errorf("scan %s: %w", id, err)
		}

		data, results, rec, err := applyUpdate(cur, fn)
		if err != nil {
			return err
		}
		if err := scans.Put([]byte(id), data); err != nil {
			return err
		}
		if results != nil {
			rb, err := bucket(tx, bucketResults)
			if err != nil {
				return err
			}
			if err := rb.Put([]byte(id), results); err != nil {
				return err
			}
		}
		out = rec
		return nil
	})
	return out, err
}

func (s *Storage) GetResults(id string) (*model.Report, error) {
	var rep *model.Report
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketResults)
		if err != nil {
			return err
		}
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("results %s: %w", id, ErrNotFound)
		}
		var r model.Report
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		rep = &r
		return nil
	})
	return rep, err
}

func (s *Storage) ListScansByOwner(ownerID string) ([]model.ScanRecord, error) {
	out := []model.ScanRecord{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		owners, err := bucket(tx, bucketOwnerScans)
		if err != nil {
			return err
		}
		idx := owners.Bucket([]byte(ownerID))
		if idx == nil {
			return nil
		}
		scans, err := bucket(tx, bucketScans)
		if err != nil {
			return err
		}
		return idx.ForEach(func(k, _ []byte) error {
			r, err := decodeScan(scans.Get(k))
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			out = append(out, *r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(recs []model.ScanRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].StartTime.After(recs[j].StartTime)
	})
}

func (s *Storage) PutAsset(a model.Asset) error {
	if a.ID == "" || a.OrgID == "" {
		return errors.New("asset id and org id are required")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		assets, err := bucket(tx, bucketAssets)
		if err != nil {
			return err
		}
		org, err := assets.CreateBucketIfNotExists([]byte(a.OrgID))
		if err != nil {
			return err
		}
		return org.Put([]byte(a.ID), data)
	})
}

func (s *Storage) ListAssets(orgID string) ([]model.Asset, error) {
	out := []model.Asset{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		assets, err := bucket(tx, bucketAssets)
		if err != nil {
			return err
		}
		org := assets.Bucket([]byte(orgID))
		if org == nil {
			return nil
		}
		return org.ForEach(func(_, v []byte) error {
			var a model.Asset
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
