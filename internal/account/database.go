package account

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/zombor/expense-tracker/internal/apperr"
)

const usersBucket = "users"

// DB defines the persistence operations for users
type DB interface {
	// CreateUser stores a new user, failing with apperr.ErrConflict if the
	// username is taken.
	CreateUser(user *User) error

	// GetUser retrieves a user by username
	GetUser(username string) (*User, error)

	// ListUsers returns all users ordered by username
	ListUsers() ([]*User, error)

	// UpdateUser loads a user, applies fn and writes the result back in one
	// transaction. Returning an error from fn aborts the write.
	UpdateUser(username string, fn func(*User) error) (*User, error)
}

// BoltDB implements DB on a shared bbolt handle
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates the users bucket if needed
func NewBoltDB(db *bbolt.DB) (*BoltDB, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(usersBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating users bucket: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// CreateUser stores a new user
func (b *BoltDB) CreateUser(user *User) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(usersBucket))
		if bucket.Get([]byte(user.Username)) != nil {
			return apperr.Conflict("Username already exists")
		}
		return putUser(bucket, user)
	})
	if err != nil {
		return wrapStorage(err, "creating user")
	}
	return nil
}

// GetUser retrieves a user by username
func (b *BoltDB) GetUser(username string) (*User, error) {
	var user *User
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = getUser(tx.Bucket([]byte(usersBucket)), username)
		return err
	})
	if err != nil {
		return nil, wrapStorage(err, "getting user")
	}
	return user, nil
}

// ListUsers returns all users
func (b *BoltDB) ListUsers() ([]*User, error) {
	users := make([]*User, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(usersBucket)).ForEach(func(k, v []byte) error {
			var user User
			if err := json.Unmarshal(v, &user); err != nil {
				return fmt.Errorf("unmarshaling user %s: %w", k, err)
			}
			users = append(users, &user)
			return nil
		})
	})
	if err != nil {
		return nil, wrapStorage(err, "listing users")
	}
	return users, nil
}

// UpdateUser applies fn to a stored user atomically
func (b *BoltDB) UpdateUser(username string, fn func(*User) error) (*User, error) {
	var user *User
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(usersBucket))
		var err error
		user, err = getUser(bucket, username)
		if err != nil {
			return err
		}
		if err := fn(user); err != nil {
			return err
		}
		user.Username = username
		return putUser(bucket, user)
	})
	if err != nil {
		return nil, wrapStorage(err, "updating user")
	}
	return user, nil
}

func getUser(bucket *bbolt.Bucket, username string) (*User, error) {
	data := bucket.Get([]byte(username))
	if data == nil {
		return nil, apperr.NotFound("User not found: %s", username)
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("unmarshaling user: %w", err)
	}
	return &user, nil
}

func putUser(bucket *bbolt.Bucket, user *User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshaling user: %w", err)
	}
	return bucket.Put([]byte(user.Username), data)
}

// wrapStorage leaves domain errors alone and marks everything else as a
// storage failure.
func wrapStorage(err error, action string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Storage(err, "Error %s", action)
}
