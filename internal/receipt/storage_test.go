package receipt

import (
	"fmt"
	"path/filepath"
	"sync"

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
			scope     string
			name      string
			data      []byte
			savedPath string
			err       error
		)

		BeforeEach(func() {
			scope = "10.0.0.1/batch-1/renamed"
			name = "240315_일반_12000_본죽.png"
			data = []byte("test file content")
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(scope, name, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the scoped path", func() {
				Expect(savedPath).To(Equal("10.0.0.1/batch-1/renamed/240315_일반_12000_본죽.png"))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, filepath.FromSlash(savedPath))).To(BeAnExistingFile())
			})
		})

		When("the name is taken", func() {
			BeforeEach(func() {
				_, saveErr := storage.Save(scope, name, []byte("first"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should add a numeric suffix instead of overwriting", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedPath).To(Equal("10.0.0.1/batch-1/renamed/240315_일반_12000_본죽_1.png"))

				first, getErr := storage.Get("10.0.0.1/batch-1/renamed/240315_일반_12000_본죽.png")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(string(first)).To(Equal("first"))
			})
		})

		When("the same name is used in another scope", func() {
			BeforeEach(func() {
				_, saveErr := storage.Save("10.0.0.2/batch-2/renamed", name, []byte("other"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should not add a suffix", func() {
				Expect(savedPath).To(HaveSuffix("/240315_일반_12000_본죽.png"))
			})
		})

		When("the scope escapes the storage directory", func() {
			BeforeEach(func() {
				scope = "../outside"
			})

			It("should return an error", func() {
				Expect(err).To(MatchError(ContainSubstring("escapes storage")))
			})
		})

		When("the name contains a separator", func() {
			BeforeEach(func() {
				name = "../x.png"
			})

			It("should return an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	It("gives concurrent saves of one name distinct files", func() {
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			paths = map[string]bool{}
		)
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				p, err := storage.Save("c/b/renamed", "same.png", []byte(fmt.Sprint(i)))
				Expect(err).NotTo(HaveOccurred())
				mu.Lock()
				paths[p] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		Expect(paths).To(HaveLen(10))
	})

	Describe("Get", func() {
		It("returns saved data", func() {
			p, err := storage.Save("a", "b.png", []byte("content"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get(p)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("content"))
		})

		It("returns an error for missing files", func() {
			_, err := storage.Get("a/missing.png")
			Expect(err).To(HaveOccurred())
		})

		It("refuses paths outside storage", func() {
			_, err := storage.Get("../../etc/passwd")
			Expect(err).To(MatchError(ContainSubstring("escapes storage")))
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			p, err := storage.Save("a", "b.png", []byte("content"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete(p)).To(Succeed())
			Expect(filepath.Join(tmpDir, "a", "b.png")).NotTo(BeAnExistingFile())
		})

		It("returns an error for missing files", func() {
			Expect(storage.Delete("a/missing.png")).NotTo(Succeed())
		})
	})
})
