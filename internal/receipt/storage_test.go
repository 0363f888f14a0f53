package receipt

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-tracker/internal/apperr"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name string
			err  error
		)

		BeforeEach(func() {
			name = "test.jpg"
		})

		JustBeforeEach(func() {
			err = storage.Save(name, []byte("test file content"))
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, "uploads", name)).To(BeAnExistingFile())
			})

			It("leaves no temporary files behind", func() {
				entries, readErr := os.ReadDir(filepath.Join(tmpDir, "uploads"))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(1))
			})
		})

		When("the name would escape the directory", func() {
			BeforeEach(func() {
				name = "../escape.jpg"
			})

			It("returns a validation error", func() {
				Expect(err).To(MatchError(apperr.ErrValidation))
			})

			It("writes nothing outside", func() {
				Expect(filepath.Join(tmpDir, "escape.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the name is hidden", func() {
			BeforeEach(func() {
				name = ".env"
			})

			It("returns a validation error", func() {
				Expect(err).To(MatchError(apperr.ErrValidation))
			})
		})
	})

	Describe("Get", func() {
		It("returns saved data", func() {
			Expect(storage.Save("test.jpg", []byte("first"))).To(Succeed())
			Expect(storage.Save("test.jpg", []byte("second"))).To(Succeed())

			data, err := storage.Get("test.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("second"))
		})

		It("reports missing files as not found", func() {
			_, err := storage.Get("missing.jpg")
			Expect(err).To(MatchError(apperr.ErrNotFound))
		})

		It("rejects path separators", func() {
			_, err := storage.Get("a/b.jpg")
			Expect(err).To(MatchError(apperr.ErrValidation))
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			Expect(storage.Save("test.jpg", []byte("x"))).To(Succeed())
			Expect(storage.Delete("test.jpg")).To(Succeed())
			Expect(filepath.Join(tmpDir, "uploads", "test.jpg")).NotTo(BeAnExistingFile())
		})

		It("reports missing files as not found", func() {
			Expect(storage.Delete("missing.jpg")).To(MatchError(apperr.ErrNotFound))
		})
	})
})
