package account

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"

	"github.com/zombor/expense-tracker/internal/apperr"
)

var _ = Describe("BoltDB", func() {
	var (
		bolt *bbolt.DB
		db   *BoltDB
	)

	BeforeEach(func() {
		var err error
		bolt, err = bbolt.Open(filepath.Join(GinkgoT().TempDir(), "test.db"), 0600, &bbolt.Options{Timeout: time.Second})
		Expect(err).NotTo(HaveOccurred())
		db, err = NewBoltDB(bolt)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if bolt != nil {
			bolt.Close()
		}
	})

	Describe("CreateUser", func() {
		It("stores the user", func() {
			Expect(db.CreateUser(&User{Username: "alice", Role: RoleUser})).To(Succeed())
			user, err := db.GetUser("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.Role).To(Equal(RoleUser))
		})

		It("rejects duplicates", func() {
			Expect(db.CreateUser(&User{Username: "alice", Role: RoleUser})).To(Succeed())
			err := db.CreateUser(&User{Username: "alice", Role: RoleAdmin})
			Expect(errors.Is(err, apperr.ErrConflict)).To(BeTrue())
		})
	})

	Describe("GetUser", func() {
		When("user does not exist", func() {
			It("returns not found", func() {
				_, err := db.GetUser("ghost")
				Expect(errors.Is(err, apperr.ErrNotFound)).To(BeTrue())
			})
		})
	})

	Describe("ListUsers", func() {
		It("returns users ordered by username", func() {
			Expect(db.CreateUser(&User{Username: "carol"})).To(Succeed())
			Expect(db.CreateUser(&User{Username: "alice"})).To(Succeed())
			users, err := db.ListUsers()
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(2))
			Expect(users[0].Username).To(Equal("alice"))
			Expect(users[1].Username).To(Equal("carol"))
		})

		It("returns an empty slice for an empty bucket", func() {
			users, err := db.ListUsers()
			Expect(err).NotTo(HaveOccurred())
			Expect(users).NotTo(BeNil())
			Expect(users).To(BeEmpty())
		})
	})

	Describe("UpdateUser", func() {
		BeforeEach(func() {
			Expect(db.CreateUser(&User{Username: "bob", Role: RoleSupervisor, Team: []string{"alice"}})).To(Succeed())
		})

		It("persists the change", func() {
			_, err := db.UpdateUser("bob", func(u *User) error {
				u.Role = RoleUser
				u.Team = []string{}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			user, err := db.GetUser("bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.Role).To(Equal(RoleUser))
			Expect(user.Team).To(BeEmpty())
		})

		It("keeps the username even if fn changes it", func() {
			_, err := db.UpdateUser("bob", func(u *User) error {
				u.Username = "mallory"
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = db.GetUser("mallory")
			Expect(errors.Is(err, apperr.ErrNotFound)).To(BeTrue())
		})

		It("does not write when fn fails", func() {
			_, err := db.UpdateUser("bob", func(u *User) error {
				u.Role = RoleAdmin
				return apperr.Validation("nope")
			})
			Expect(errors.Is(err, apperr.ErrValidation)).To(BeTrue())
			user, err := db.GetUser("bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.Role).To(Equal(RoleSupervisor))
		})

		It("returns not found for unknown users", func() {
			_, err := db.UpdateUser("ghost", func(u *User) error { return nil })
			Expect(errors.Is(err, apperr.ErrNotFound)).To(BeTrue())
		})
	})
})
