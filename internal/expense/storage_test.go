package expense

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			savedPath string
			err       error
		)

		BeforeEach(func() {
			filename = "abc123_receipt.jpg"
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(filename, []byte("image content"))
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the stored name", func() {
				Expect(savedPath).To(Equal(filename))
			})

			It("should write the file to disk", func() {
				Expect(filepath.Join(tmpDir, filename)).To(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		var (
			filename string
			data     []byte
			err      error
		)

		JustBeforeEach(func() {
			data, err = storage.Get(filename)
		})

		When("the image exists", func() {
			BeforeEach(func() {
				filename = "abc123_receipt.jpg"
				_, saveErr := storage.Save(filename, []byte("image content"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the stored bytes", func() {
				Expect(string(data)).To(Equal("image content"))
			})
		})

		When("the image does not exist", func() {
			BeforeEach(func() {
				filename = "missing.jpg"
			})

			It("returns the error", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("reading image"))
			})
		})
	})

	Describe("Delete", func() {
		var (
			filename string
			err      error
		)

		JustBeforeEach(func() {
			err = storage.Delete(filename)
		})

		When("the image exists", func() {
			BeforeEach(func() {
				filename = "abc123_receipt.jpg"
				_, saveErr := storage.Save(filename, []byte("image content"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove the file from disk", func() {
				Expect(filepath.Join(tmpDir, filename)).NotTo(BeAnExistingFile())
			})

			It("should make the image inaccessible via Get", func() {
				_, getErr := storage.Get(filename)
				Expect(getErr).To(HaveOccurred())
			})
		})

		When("the image does not exist", func() {
			BeforeEach(func() {
				filename = "missing.jpg"
			})

			It("returns the error", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("deleting image"))
			})
		})
	})

	Describe("NewLocalStorage", func() {
		var (
			storagePath string
			created     Storage
			err         error
		)

		JustBeforeEach(func() {
			created, err = NewLocalStorage(storagePath)
		})

		When("the directory does not exist", func() {
			BeforeEach(func() {
				storagePath = filepath.Join(GinkgoT().TempDir(), "receipts")
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should create the directory", func() {
				Expect(storagePath).To(BeADirectory())
			})

			It("should allow saving images", func() {
				_, saveErr := created.Save("test.jpg", []byte("data"))
				Expect(saveErr).NotTo(HaveOccurred())
			})
		})

		When("the directory already exists", func() {
			BeforeEach(func() {
				storagePath = GinkgoT().TempDir()
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should allow saving images", func() {
				_, saveErr := created.Save("test.jpg", []byte("data"))
				Expect(saveErr).NotTo(HaveOccurred())
			})
		})
	})
})
