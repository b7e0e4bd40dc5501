package expense

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/pocket-ledger/internal/reconcile"
)

func newScanRequest(filename string, data []byte, contentType string) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="file"; filename="` + filename + `"`},
		"Content-Type":        {contentType},
	})
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	req := httptest.NewRequest("POST", "/api/scan", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func jsonRequest(method, path string, body any) *http.Request {
	data, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

var _ = Describe("Server", func() {
	var (
		db      *mockDB
		storage *mockStorage
		scanner *mockScanner
		service *Service
		server  *Server
		rec     *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		service = NewServiceWithDeps(db, scanner, storage, &mockIDGenerator{}, &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)})
		server = NewServer(service, BasicAuth{})
		rec = httptest.NewRecorder()
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			server = NewServer(service, BasicAuth{Username: "user", Password: "pass"})
		})

		It("rejects requests without credentials", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/history", nil))
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("accepts valid credentials", func() {
			req := httptest.NewRequest("GET", "/api/history", nil)
			req.SetBasicAuth("user", "pass")
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("GET /api/calculator", func() {
		It("returns the identity state", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/calculator", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var state map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &state)).To(Succeed())
			Expect(state["display"]).To(Equal("0"))
		})
	})

	Describe("POST /api/calculator/keys", func() {
		It("applies a key and returns the new state", func() {
			server.ServeHTTP(rec, jsonRequest("POST", "/api/calculator/keys", map[string]string{"key": "7"}))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var state map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &state)).To(Succeed())
			Expect(state["display"]).To(Equal("7"))
		})

		It("rejects an unknown key", func() {
			server.ServeHTTP(rec, jsonRequest("POST", "/api/calculator/keys", map[string]string{"key": "nope"}))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a malformed body", func() {
			req := httptest.NewRequest("POST", "/api/calculator/keys", strings.NewReader("not json"))
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/scan", func() {
		When("the scan succeeds", func() {
			BeforeEach(func() {
				server.ServeHTTP(rec, newScanRequest("receipt.jpg", []byte("fake image"), "image/jpeg"))
			})

			It("returns 201 with the staged draft", func() {
				Expect(rec.Code).To(Equal(http.StatusCreated))

				var draft ScanDraft
				Expect(json.Unmarshal(rec.Body.Bytes(), &draft)).To(Succeed())
				Expect(draft.Items).To(HaveLen(2))
				Expect(draft.Total).To(Equal(5.75))
			})

			It("rejects a concurrent second scan", func() {
				second := httptest.NewRecorder()
				server.ServeHTTP(second, newScanRequest("other.jpg", []byte("more"), "image/jpeg"))
				Expect(second.Code).To(Equal(http.StatusConflict))
			})
		})

		When("no file is provided", func() {
			It("returns 400", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.Close()).To(Succeed())
				req := httptest.NewRequest("POST", "/api/scan", body)
				req.Header.Set("Content-Type", writer.FormDataContentType())

				server.ServeHTTP(rec, req)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			})
		})

		When("the vision service fails", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("connection refused")
				server.ServeHTTP(rec, newScanRequest("receipt.jpg", []byte("fake"), "image/jpeg"))
			})

			It("returns 502 with a generic message", func() {
				Expect(rec.Code).To(Equal(http.StatusBadGateway))

				var resp map[string]string
				Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp["error"]).To(ContainSubstring("Scanning failed"))
			})
		})

		When("the payload has no valid items", func() {
			BeforeEach(func() {
				scanner.payload = map[string]any{"items": []any{}}
				server.ServeHTTP(rec, newScanRequest("receipt.jpg", []byte("fake"), "image/jpeg"))
			})

			It("returns 422 with an actionable message", func() {
				Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))

				var resp map[string]string
				Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp["error"]).To(ContainSubstring("No valid expense items"))
			})
		})

		When("the payload is not an object", func() {
			BeforeEach(func() {
				scanner.payload = "garbage"
				server.ServeHTTP(rec, newScanRequest("receipt.jpg", []byte("fake"), "image/jpeg"))
			})

			It("returns 422 with a format message", func() {
				Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))

				var resp map[string]string
				Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp["error"]).To(ContainSubstring("invalid format"))
			})
		})
	})

	Describe("staging endpoints", func() {
		When("no scan is staged", func() {
			It("GET /api/scan returns 404", func() {
				server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/scan", nil))
				Expect(rec.Code).To(Equal(http.StatusNotFound))
			})

			It("POST /api/scan/confirm returns 404", func() {
				server.ServeHTTP(rec, httptest.NewRequest("POST", "/api/scan/confirm", nil))
				Expect(rec.Code).To(Equal(http.StatusNotFound))
			})
		})

		When("a scan is staged", func() {
			BeforeEach(func() {
				staged := httptest.NewRecorder()
				server.ServeHTTP(staged, newScanRequest("receipt.jpg", []byte("fake"), "image/jpeg"))
				Expect(staged.Code).To(Equal(http.StatusCreated))
			})

			It("returns the draft", func() {
				server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/scan", nil))
				Expect(rec.Code).To(Equal(http.StatusOK))
			})

			It("edits an item amount", func() {
				server.ServeHTTP(rec, jsonRequest("PUT", "/api/scan/items/0", map[string]string{"amount": "10"}))
				Expect(rec.Code).To(Equal(http.StatusOK))

				var draft ScanDraft
				Expect(json.Unmarshal(rec.Body.Bytes(), &draft)).To(Succeed())
				Expect(draft.Total).To(Equal(13.25))
			})

			It("rejects an out-of-range index", func() {
				server.ServeHTTP(rec, jsonRequest("PUT", "/api/scan/items/9", map[string]string{"amount": "1"}))
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			})

			It("appends a blank item", func() {
				server.ServeHTTP(rec, httptest.NewRequest("POST", "/api/scan/items", nil))
				Expect(rec.Code).To(Equal(http.StatusOK))

				var draft ScanDraft
				Expect(json.Unmarshal(rec.Body.Bytes(), &draft)).To(Succeed())
				Expect(draft.Items).To(HaveLen(3))
			})

			It("removes an item", func() {
				server.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/scan/items/0", nil))
				Expect(rec.Code).To(Equal(http.StatusOK))

				var draft ScanDraft
				Expect(json.Unmarshal(rec.Body.Bytes(), &draft)).To(Succeed())
				Expect(draft.Items).To(HaveLen(1))
			})

			It("edits the category", func() {
				server.ServeHTTP(rec, jsonRequest("PUT", "/api/scan/category", map[string]string{"category": "Food"}))
				Expect(rec.Code).To(Equal(http.StatusOK))

				var draft ScanDraft
				Expect(json.Unmarshal(rec.Body.Bytes(), &draft)).To(Succeed())
				Expect(draft.Category).To(Equal("Food"))
			})

			It("confirms the scan into the ledger", func() {
				server.ServeHTTP(rec, httptest.NewRequest("POST", "/api/scan/confirm", nil))
				Expect(rec.Code).To(Equal(http.StatusCreated))
				Expect(db.entries).To(HaveLen(1))
			})

			It("discards the scan without a ledger entry", func() {
				server.ServeHTTP(rec, httptest.NewRequest("POST", "/api/scan/discard", nil))
				Expect(rec.Code).To(Equal(http.StatusNoContent))
				Expect(db.entries).To(BeEmpty())
				Expect(storage.files).To(BeEmpty())
			})
		})
	})

	Describe("history endpoints", func() {
		BeforeEach(func() {
			staged := httptest.NewRecorder()
			server.ServeHTTP(staged, newScanRequest("receipt.jpg", []byte("image bytes"), "image/jpeg"))
			Expect(staged.Code).To(Equal(http.StatusCreated))
			confirmed := httptest.NewRecorder()
			server.ServeHTTP(confirmed, httptest.NewRequest("POST", "/api/scan/confirm", nil))
			Expect(confirmed.Code).To(Equal(http.StatusCreated))
		})

		It("lists entries", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/history", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var entries []map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &entries)).To(Succeed())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0]["type"]).To(Equal("scan"))
		})

		It("exports CSV oldest first", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/history/export", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(ContainSubstring("text/csv"))

			records, err := csv.NewReader(rec.Body).ReadAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records[0][0]).To(Equal("ID"))
			Expect(records[1][2]).To(Equal("scan"))
		})

		It("serves the stored receipt image", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/history/test-id-2/image", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("image/jpeg"))
			Expect(rec.Body.String()).To(Equal("image bytes"))
		})

		It("returns 404 for an unknown entry image", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/history/missing/image", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("expense endpoint", func() {
		It("creates a manual expense", func() {
			server.ServeHTTP(rec, jsonRequest("POST", "/api/expenses", map[string]string{
				"description": "Bus ticket",
				"amount":      "3.50",
				"category":    "Transport",
			}))
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(db.entries).To(HaveLen(1))
		})

		It("rejects a non-positive amount", func() {
			server.ServeHTTP(rec, jsonRequest("POST", "/api/expenses", map[string]string{
				"description": "X",
				"amount":      "-1",
			}))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("category endpoints", func() {
		It("adds and lists categories", func() {
			server.ServeHTTP(rec, jsonRequest("POST", "/api/categories", map[string]string{"name": "Groceries"}))
			Expect(rec.Code).To(Equal(http.StatusCreated))

			listRec := httptest.NewRecorder()
			server.ServeHTTP(listRec, httptest.NewRequest("GET", "/api/categories", nil))
			var categories []string
			Expect(json.Unmarshal(listRec.Body.Bytes(), &categories)).To(Succeed())
			Expect(categories).To(ConsistOf("Groceries"))
		})

		It("reports a case-insensitive duplicate without creating", func() {
			first := httptest.NewRecorder()
			server.ServeHTTP(first, jsonRequest("POST", "/api/categories", map[string]string{"name": "Groceries"}))
			server.ServeHTTP(rec, jsonRequest("POST", "/api/categories", map[string]string{"name": "GROCERIES"}))
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("deletes a category", func() {
			first := httptest.NewRecorder()
			server.ServeHTTP(first, jsonRequest("POST", "/api/categories", map[string]string{"name": "Groceries"}))

			server.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/categories/Groceries", nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
		})

		It("renames a category", func() {
			first := httptest.NewRecorder()
			server.ServeHTTP(first, jsonRequest("POST", "/api/categories", map[string]string{"name": "Groceries"}))

			server.ServeHTTP(rec, jsonRequest("PUT", "/api/categories/Groceries", map[string]string{"name": "Food"}))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var categories []string
			Expect(json.Unmarshal(rec.Body.Bytes(), &categories)).To(Succeed())
			Expect(categories).To(ConsistOf("Food"))
		})
	})

	Describe("settings endpoints", func() {
		It("returns defaults", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/settings", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var settings map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &settings)).To(Succeed())
			Expect(settings["theme"]).To(Equal("dark"))
		})

		It("persists the theme", func() {
			server.ServeHTTP(rec, jsonRequest("PUT", "/api/settings/theme", map[string]string{"theme": "light"}))
			Expect(rec.Code).To(Equal(http.StatusNoContent))

			getRec := httptest.NewRecorder()
			server.ServeHTTP(getRec, httptest.NewRequest("GET", "/api/settings", nil))
			var settings map[string]string
			Expect(json.Unmarshal(getRec.Body.Bytes(), &settings)).To(Succeed())
			Expect(settings["theme"]).To(Equal("light"))
		})

		It("rejects an invalid theme", func() {
			server.ServeHTTP(rec, jsonRequest("PUT", "/api/settings/theme", map[string]string{"theme": "sepia"}))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("persists the active view", func() {
			server.ServeHTTP(rec, jsonRequest("PUT", "/api/settings/view", map[string]string{"view": "history"}))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
		})
	})
})

var _ = Describe("Draft JSON shape", func() {
	It("serializes items with text amounts", func() {
		draft := &ScanDraft{
			Category: "Groceries",
			Items:    []reconcile.DraftItem{{Description: "Milk", Amount: "2.50"}},
			Total:    2.5,
		}
		data, err := json.Marshal(draft)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(MatchJSON(`{"category":"Groceries","items":[{"description":"Milk","amount":"2.50"}],"total":2.5}`))
	})
})
