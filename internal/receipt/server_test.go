package receipt

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-ocr/internal/extract"
	"github.com/zombor/receipt-ocr/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		lookup      *mockLookup
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	// do sends one request through the server
	do := func(req *http.Request) *http.Response {
		ghttpServer.AppendHandlers(server.Handler().ServeHTTP)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	get := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+path, nil)
		Expect(err).NotTo(HaveOccurred())
		return do(req)
	}

	upload := func(key string, files map[string][]byte, order ...string) *http.Response {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		for _, name := range order {
			fw, err := mw.CreateFormFile("files", name)
			Expect(err).NotTo(HaveOccurred())
			_, err = fw.Write(files[name])
			Expect(err).NotTo(HaveOccurred())
		}
		if key != "" {
			Expect(mw.WriteField("user_key", key)).To(Succeed())
		}
		Expect(mw.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/upload", &body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return do(req)
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	BeforeEach(func() {
		db = newMockDB()
		lookup = &mockLookup{taxType: "부가가치세 간이과세자"}
		auth = BasicAuth{}
		ghttpServer = ghttp.NewServer()
	})

	JustBeforeEach(func() {
		engine := &mockEngine{lines: map[int][]string{100: cafeReceipt}}
		service := NewServiceWithDeps(db, newMockStorage(), &inlineWorkers{engine: engine}, lookup,
			Config{Raster: scanning.DefaultRasterOptions()},
			&mockIDGenerator{id: "batch-1"},
			&mockTimeSource{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, http.NewServeMux())
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("handleIndex", func() {
		It("serves the upload page", func() {
			resp := get("/")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`name="files"`))
		})
	})

	Describe("handleUpload", func() {
		When("files are uploaded with a key", func() {
			var result BatchResult

			JustBeforeEach(func() {
				resp := upload("user-key", map[string][]byte{
					"a.jpg":  pngOfWidth(100),
					"b.txt":  []byte("not an image"),
					"c.jpeg": pngOfWidth(100),
				}, "a.jpg", "b.txt", "c.jpeg")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				decode(resp, &result)
			})

			It("returns one outcome per file in order", func() {
				Expect(result.ID).To(Equal("batch-1"))
				Expect(result.Outcomes).To(HaveLen(3))
				Expect(result.Outcomes[0].OriginalFile).To(Equal("a.jpg"))
				Expect(result.Outcomes[1].Stage).To(Equal(StageFailed))
				Expect(result.Outcomes[2].OriginalFile).To(Equal("c.jpeg"))
			})

			It("classifies with the caller's key", func() {
				Expect(result.Outcomes[0].Record.TaxType).To(Equal(extract.TaxSimplified))
				Expect(lookup.keys).To(Equal([]string{"user-key", "user-key"}))
			})

			It("attributes the batch to the caller", func() {
				Expect(db.batches["batch-1"].ClientID).To(Equal("127.0.0.1"))
			})
		})

		When("no files are uploaded", func() {
			It("returns a JSON error", func() {
				resp := upload("", nil)
				var body map[string]string
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				decode(resp, &body)
				Expect(body["error"]).To(ContainSubstring("No files"))
			})
		})

		When("the body is not multipart", func() {
			It("returns a JSON error", func() {
				req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/upload", bytes.NewBufferString("{}"))
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", "application/json")
				resp := do(req)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("batch endpoints", func() {
		JustBeforeEach(func() {
			resp := upload("", map[string][]byte{"a.jpg": pngOfWidth(100)}, "a.jpg")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("returns the batch", func() {
			resp := get("/api/batches/batch-1")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var batch BatchResult
			decode(resp, &batch)
			Expect(batch.Outcomes[0].RenamedFile).To(Equal("240315_미확인_12000_카페 하나.png"))
		})

		It("lists the caller's batches", func() {
			resp := get("/api/batches")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var batches []BatchResult
			decode(resp, &batches)
			Expect(batches).To(HaveLen(1))
		})

		It("returns 404 for unknown batches", func() {
			resp := get("/api/batches/nope")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("hides batches from other clients behind a trusted proxy", func() {
			server.TrustProxy(true)
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/batches/batch-1", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
			resp := do(req)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("ignores a forwarded address sent without a trusted proxy", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/batches/batch-1", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("X-Forwarded-For", "203.0.113.9")
			resp := do(req)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("serves stored images", func() {
			resp := get("/api/batches/batch-1/files/visualized/240315_%EB%AF%B8%ED%99%95%EC%9D%B8_12000_%EC%B9%B4%ED%8E%98%20%ED%95%98%EB%82%98_vis.png")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
		})

		It("rejects unknown file kinds", func() {
			resp := get("/api/batches/batch-1/files/original/a.jpg")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for unknown files", func() {
			resp := get("/api/batches/batch-1/files/renamed/other.png")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("exports CSV by default", func() {
			resp := get("/api/batches/batch-1/export")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/csv"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("카페 하나"))
		})

		It("exports XLSX", func() {
			resp := get("/api/batches/batch-1/export?format=xlsx")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("receipts_batch-1.xlsx"))
		})

		It("rejects unknown export formats", func() {
			resp := get("/api/batches/batch-1/export?format=pdf")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("downloads a zip archive", func() {
			resp := get("/api/batches/batch-1/archive")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/zip"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
			Expect(err).NotTo(HaveOccurred())
			Expect(zr.File).To(HaveLen(3))
		})
	})

	Describe("handleUsage", func() {
		It("reports today's counts", func() {
			_, err := db.IncrementUsage("2024-03-15", "127.0.0.1")
			Expect(err).NotTo(HaveOccurred())
			_, err = db.IncrementUsage("2024-03-15", "10.0.0.9")
			Expect(err).NotTo(HaveOccurred())

			resp := get("/api/usage")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var usage Usage
			decode(resp, &usage)
			Expect(usage).To(Equal(Usage{Day: "2024-03-15", Total: 2, Client: 1}))
		})
	})

	Describe("metrics", func() {
		It("exposes prometheus metrics", func() {
			resp := get("/metrics")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			resp := get("/api/usage")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/usage", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
			resp := do(req)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/usage", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp := do(req)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/upload", nil)
			Expect(err).NotTo(HaveOccurred())
			resp := do(req)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})
})

var _ = Describe("clientID", func() {
	DescribeTable("identifying the caller",
		func(remote, forwarded string, trustProxy bool, want string) {
			r, err := http.NewRequest(http.MethodGet, "/", nil)
			Expect(err).NotTo(HaveOccurred())
			r.RemoteAddr = remote
			if forwarded != "" {
				r.Header.Set("X-Forwarded-For", forwarded)
			}
			Expect(clientID(r, trustProxy)).To(Equal(want))
		},
		Entry("peer address", "192.0.2.1:5555", "", false, "192.0.2.1"),
		Entry("ipv6 peer", "[::1]:5555", "", false, "::1"),
		Entry("first forwarded hop behind a trusted proxy", "10.0.0.1:80", "203.0.113.9, 10.0.0.1", true, "203.0.113.9"),
		Entry("forwarded header from an untrusted caller", "192.0.2.1:5555", "203.0.113.9", false, "192.0.2.1"),
		Entry("trusted proxy without the header", "10.0.0.1:80", "", true, "10.0.0.1"),
		Entry("unparseable peer", "pipe", "", false, "pipe"),
	)
})
