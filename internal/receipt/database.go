package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"go.etcd.io/bbolt"

	"github.com/zombor/expense-tracker/internal/apperr"
)

const (
	receiptsBucket = "receipts"
	draftsBucket   = "drafts"
)

// DB defines the record store for receipts and staged drafts. Receipts are
// stored per owner as an ordered sequence in upload order. Every write runs in
// a single bbolt write transaction, so writers are serialized and readers see
// either the old or the new sequence, never a partial one.
type DB interface {
	// ListByOwners returns the receipts of each owner in the order the owners
	// are given, tagged with the owner. Owners without receipts contribute
	// nothing.
	ListByOwners(owners []string) ([]OwnedReceipt, error)

	// ListAll returns every owner's receipts, owners in key order
	ListAll() ([]OwnedReceipt, error)

	// Submit consumes the draft for receipt.ImageFilename, which must belong
	// to owner, and appends the receipt to owner's sequence
	Submit(owner string, receipt *Receipt) error

	// UpdateReceipt applies fn to the receipt identified by (owner,
	// processedAt) and stores the result. An error from fn aborts the write.
	UpdateReceipt(owner, processedAt string, fn func(*Receipt) error) (*Receipt, error)

	// DeleteReceipt removes the receipt and returns what was removed
	DeleteReceipt(owner, processedAt string) (*Receipt, error)

	// SaveDraft records a staged upload
	SaveDraft(draft *Draft) error

	// GetDraft retrieves a staged upload by stored filename
	GetDraft(filename string) (*Draft, error)

	// DeleteDraft removes a staged upload record
	DeleteDraft(filename string) error
}

// BoltDB implements DB using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates the receipt buckets on a shared bbolt handle
func NewBoltDB(db *bbolt.DB) (*BoltDB, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(receiptsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(draftsBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// ListByOwners returns the receipts of the given owners
func (b *BoltDB) ListByOwners(owners []string) ([]OwnedReceipt, error) {
	result := make([]OwnedReceipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucket))
		for _, owner := range owners {
			receipts, err := readSequence(bucket, owner)
			if err != nil {
				return err
			}
			result = appendOwned(result, owner, receipts)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err, "listing receipts")
	}
	return result, nil
}

// ListAll returns all receipts
func (b *BoltDB) ListAll() ([]OwnedReceipt, error) {
	result := make([]OwnedReceipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptsBucket)).ForEach(func(k, v []byte) error {
			var receipts []Receipt
			if err := json.Unmarshal(v, &receipts); err != nil {
				return fmt.Errorf("unmarshaling receipts of %s: %w", k, err)
			}
			result = appendOwned(result, string(k), receipts)
			return nil
		})
	})
	if err != nil {
		return nil, wrapStorage(err, "listing receipts")
	}
	return result, nil
}

// Submit appends a receipt and consumes its draft
func (b *BoltDB) Submit(owner string, receipt *Receipt) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		receipts := tx.Bucket([]byte(receiptsBucket))
		drafts := tx.Bucket([]byte(draftsBucket))

		sequence, err := readSequence(receipts, owner)
		if err != nil {
			return err
		}

		draft, err := readDraft(drafts, receipt.ImageFilename)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) && slices.ContainsFunc(sequence, func(r Receipt) bool {
				return r.ImageFilename == receipt.ImageFilename
			}) {
				return apperr.Conflict("Receipt already saved")
			}
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.Validation("No pending upload for %s", receipt.ImageFilename)
			}
			return err
		}
		if draft.Owner != owner {
			return apperr.Forbidden("Unauthorized")
		}
		if slices.ContainsFunc(sequence, func(r Receipt) bool { return r.ProcessedAt == receipt.ProcessedAt }) {
			return apperr.Conflict("A receipt with processed_at %s already exists", receipt.ProcessedAt)
		}

		if err := drafts.Delete([]byte(receipt.ImageFilename)); err != nil {
			return err
		}
		return writeSequence(receipts, owner, append(sequence, *receipt))
	})
	if err != nil {
		return wrapStorage(err, "saving receipt")
	}
	return nil
}

// UpdateReceipt applies fn to a stored receipt atomically
func (b *BoltDB) UpdateReceipt(owner, processedAt string, fn func(*Receipt) error) (*Receipt, error) {
	var updated Receipt
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucket))
		sequence, err := readSequence(bucket, owner)
		if err != nil {
			return err
		}
		i := indexOf(sequence, processedAt)
		if i < 0 {
			return apperr.NotFound("Receipt not found")
		}
		if err := fn(&sequence[i]); err != nil {
			return err
		}
		updated = sequence[i]
		return writeSequence(bucket, owner, sequence)
	})
	if err != nil {
		return nil, wrapStorage(err, "updating receipt")
	}
	return &updated, nil
}

// DeleteReceipt removes a receipt from its owner's sequence
func (b *BoltDB) DeleteReceipt(owner, processedAt string) (*Receipt, error) {
	var removed Receipt
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucket))
		sequence, err := readSequence(bucket, owner)
		if err != nil {
			return err
		}
		i := indexOf(sequence, processedAt)
		if i < 0 {
			return apperr.NotFound("Receipt not found")
		}
		removed = sequence[i]
		sequence = slices.Delete(sequence, i, i+1)
		if len(sequence) == 0 {
			return bucket.Delete([]byte(owner))
		}
		return writeSequence(bucket, owner, sequence)
	})
	if err != nil {
		return nil, wrapStorage(err, "deleting receipt")
	}
	return &removed, nil
}

// SaveDraft records a staged upload
func (b *BoltDB) SaveDraft(draft *Draft) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(draft)
		if err != nil {
			return fmt.Errorf("marshaling draft: %w", err)
		}
		return tx.Bucket([]byte(draftsBucket)).Put([]byte(draft.ImageFilename), data)
	})
	if err != nil {
		return wrapStorage(err, "saving draft")
	}
	return nil
}

// GetDraft retrieves a staged upload
func (b *BoltDB) GetDraft(filename string) (*Draft, error) {
	var draft *Draft
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		draft, err = readDraft(tx.Bucket([]byte(draftsBucket)), filename)
		return err
	})
	if err != nil {
		return nil, wrapStorage(err, "getting draft")
	}
	return draft, nil
}

// DeleteDraft removes a staged upload record
func (b *BoltDB) DeleteDraft(filename string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(draftsBucket)).Delete([]byte(filename))
	})
	if err != nil {
		return wrapStorage(err, "deleting draft")
	}
	return nil
}

func readSequence(bucket *bbolt.Bucket, owner string) ([]Receipt, error) {
	data := bucket.Get([]byte(owner))
	if data == nil {
		return nil, nil
	}
	var receipts []Receipt
	if err := json.Unmarshal(data, &receipts); err != nil {
		return nil, fmt.Errorf("unmarshaling receipts of %s: %w", owner, err)
	}
	return receipts, nil
}

func writeSequence(bucket *bbolt.Bucket, owner string, receipts []Receipt) error {
	data, err := json.Marshal(receipts)
	if err != nil {
		return fmt.Errorf("marshaling receipts: %w", err)
	}
	return bucket.Put([]byte(owner), data)
}

func readDraft(bucket *bbolt.Bucket, filename string) (*Draft, error) {
	data := bucket.Get([]byte(filename))
	if data == nil {
		return nil, apperr.NotFound("Draft not found: %s", filename)
	}
	var draft Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("unmarshaling draft: %w", err)
	}
	return &draft, nil
}

func indexOf(receipts []Receipt, processedAt string) int {
	return slices.IndexFunc(receipts, func(r Receipt) bool { return r.ProcessedAt == processedAt })
}

func appendOwned(dst []OwnedReceipt, owner string, receipts []Receipt) []OwnedReceipt {
	for _, r := range receipts {
		dst = append(dst, OwnedReceipt{Username: owner, Receipt: r})
	}
	return dst
}

// wrapStorage leaves domain errors alone and marks everything else as a
// storage failure
func wrapStorage(err error, action string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Storage(err, "Error %s", action)
}
