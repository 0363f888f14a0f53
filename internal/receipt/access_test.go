package receipt

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-tracker/internal/account"
)

func ownersOf(receipts []OwnedReceipt) []string {
	names := make([]string, 0, len(receipts))
	for _, r := range receipts {
		names = append(names, r.Username)
	}
	return names
}

var _ = Describe("Visible", func() {
	var (
		db      *mockDB
		actor   account.Actor
		visible []OwnedReceipt
		err     error
	)

	BeforeEach(func() {
		db = newMockDB()
		db.receipts["alice"] = []Receipt{
			storedReceipt("a1.png", "2024-01-01T10:00:00"),
			storedReceipt("a2.png", "2024-01-02T10:00:00"),
		}
		db.receipts["bob"] = []Receipt{storedReceipt("b1.png", "2024-01-03T10:00:00")}
		db.receipts["carol"] = []Receipt{storedReceipt("c1.png", "2024-01-01T10:00:00")}
		db.receipts["dave"] = []Receipt{storedReceipt("d1.png", "2024-01-04T10:00:00")}
	})

	JustBeforeEach(func() {
		visible, err = Visible(db, actor)
	})

	When("the actor is a plain user", func() {
		BeforeEach(func() {
			actor = alice
		})

		It("returns exactly their own receipts in stored order", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(ownersOf(visible)).To(Equal([]string{"alice", "alice"}))
			Expect(visible[0].ImageFilename).To(Equal("a1.png"))
			Expect(visible[1].ImageFilename).To(Equal("a2.png"))
		})
	})

	When("the actor is a user with no receipts", func() {
		BeforeEach(func() {
			actor = account.Actor{Username: "erin", Role: account.RoleUser}
		})

		It("returns an empty set", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(visible).To(BeEmpty())
		})
	})

	When("the actor is a supervisor", func() {
		BeforeEach(func() {
			actor = account.Actor{
				Username: "bob",
				Role:     account.RoleSupervisor,
				Team:     []string{"dave", "alice", "erin"},
			}
		})

		It("lists own receipts first, then each member in team order", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(ownersOf(visible)).To(Equal([]string{"bob", "dave", "alice", "alice"}))
		})

		It("never includes users outside the team", func() {
			Expect(ownersOf(visible)).NotTo(ContainElement("carol"))
		})
	})

	When("a supervisor's team repeats a member", func() {
		BeforeEach(func() {
			actor = account.Actor{Username: "bob", Role: account.RoleSupervisor, Team: []string{"alice", "alice", "bob"}}
		})

		It("lists each owner once", func() {
			Expect(ownersOf(visible)).To(Equal([]string{"bob", "alice", "alice"}))
		})
	})

	When("the actor is an admin", func() {
		BeforeEach(func() {
			actor = admin
		})

		It("returns every owner's receipts", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(ownersOf(visible)).To(Equal([]string{"alice", "alice", "bob", "carol", "dave"}))
		})
	})

	When("the role is unknown", func() {
		BeforeEach(func() {
			actor = account.Actor{Username: "carol", Role: "auditor", Team: []string{"alice"}}
		})

		It("falls back to own receipts", func() {
			Expect(ownersOf(visible)).To(Equal([]string{"carol"}))
		})
	})
})

var _ = Describe("Can", func() {
	DescribeTable("decides receipt mutations",
		func(actor account.Actor, action Action, owner string, want bool) {
			Expect(Can(actor, action, owner)).To(Equal(want))
		},
		Entry("admin updates anyone's status", admin, ActionUpdateStatus, "carol", true),
		Entry("supervisor updates own status", bob, ActionUpdateStatus, "bob", true),
		Entry("supervisor updates team status", bob, ActionUpdateStatus, "alice", true),
		Entry("supervisor cannot update outsider status", bob, ActionUpdateStatus, "carol", false),
		Entry("user cannot update own status", alice, ActionUpdateStatus, "alice", false),
		Entry("user cannot update another's status", carol, ActionUpdateStatus, "alice", false),

		Entry("admin edits anyone's receipt", admin, ActionUpdateReceipt, "carol", true),
		Entry("supervisor edits team receipt", bob, ActionUpdateReceipt, "alice", true),
		Entry("supervisor cannot edit outsider receipt", bob, ActionUpdateReceipt, "carol", false),
		Entry("user edits own receipt", alice, ActionUpdateReceipt, "alice", true),
		Entry("user cannot edit another's receipt", carol, ActionUpdateReceipt, "alice", false),

		Entry("user deletes own receipt", alice, ActionDeleteReceipt, "alice", true),
		Entry("user cannot delete another's receipt", alice, ActionDeleteReceipt, "bob", false),
	)
})

var _ = Describe("CanGenerateTeamReport", func() {
	It("allows supervisors only", func() {
		Expect(CanGenerateTeamReport(bob)).To(BeTrue())
		Expect(CanGenerateTeamReport(alice)).To(BeFalse())
		Expect(CanGenerateTeamReport(admin)).To(BeFalse())
	})
})

var _ = Describe("CanReadFile", func() {
	visible := []OwnedReceipt{
		{Username: "alice", Receipt: Receipt{ImageFilename: "a.png"}},
		{Username: "alice", Receipt: Receipt{}},
	}

	It("matches filenames in the set", func() {
		Expect(CanReadFile(visible, "a.png")).To(BeTrue())
	})

	It("rejects others", func() {
		Expect(CanReadFile(visible, "b.png")).To(BeFalse())
	})

	It("never matches an empty filename", func() {
		Expect(CanReadFile(visible, "")).To(BeFalse())
	})
})
