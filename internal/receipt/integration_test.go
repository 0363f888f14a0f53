package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"path/filepath"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"go.etcd.io/bbolt"

	"github.com/zombor/expense-tracker/internal/account"
	"github.com/zombor/expense-tracker/internal/receipt"
	"github.com/zombor/expense-tracker/internal/report"
	"github.com/zombor/expense-tracker/internal/scanning"
)

var ghttpAny = regexp.MustCompile(`.*`)

// fakeModel stands in for the OCR and language model provider
type fakeModel struct {
	receiptData *scanning.ReceiptData
	lastChat    scanning.ChatRequest
}

func (f *fakeModel) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	return "TEST INTEGRATION RECEIPT 42.50", nil
}

func (f *fakeModel) ParseReceipt(ctx context.Context, text string) (*scanning.ReceiptData, error) {
	return f.receiptData, nil
}

func (f *fakeModel) Answer(ctx context.Context, req scanning.ChatRequest) (string, error) {
	f.lastChat = req
	return "42.50 in total", nil
}

func (f *fakeModel) Close() error {
	return nil
}

var _ = Describe("Integration", func() {
	var (
		bolt     *bbolt.DB
		store    receipt.Storage
		model    *fakeModel
		server   *receipt.Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		bolt, err = bbolt.Open(filepath.Join(tempDir, "test.db"), 0600, &bbolt.Options{Timeout: time.Second})
		Expect(err).NotTo(HaveOccurred())

		// Initialize real dependencies
		receipts, err := receipt.NewBoltDB(bolt)
		Expect(err).NotTo(HaveOccurred())
		users, err := account.NewBoltDB(bolt)
		Expect(err).NotTo(HaveOccurred())
		store, err = receipt.NewLocalStorage(filepath.Join(tempDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())
		sessions, err := account.NewSessions("integration-secret", time.Hour)
		Expect(err).NotTo(HaveOccurred())

		model = &fakeModel{
			receiptData: &scanning.ReceiptData{
				StoreName:       "Test Integration Store",
				Date:            "2024-03-20",
				LineItems:       []string{"Widget"},
				TotalPayment:    "$42.50",
				ExpenseCategory: "office supplies",
			},
		}

		service := receipt.NewService(receipts, store, model, report.NewPDF(), 5*time.Second)
		server = receipt.NewServer(service, account.NewService(users), sessions, receipt.ServerConfig{})

		ghServer = ghttp.NewServer()
		ghServer.RouteToHandler("GET", ghttpAny, server.ServeHTTP)
		ghServer.RouteToHandler("POST", ghttpAny, server.ServeHTTP)
		ghServer.RouteToHandler("PUT", ghttpAny, server.ServeHTTP)
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if bolt != nil {
			bolt.Close()
		}
	})

	// client returns an HTTP client with its own cookie jar, i.e. one browser
	client := func() *http.Client {
		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		return &http.Client{Jar: jar}
	}

	postJSON := func(c *http.Client, path string, v any) *http.Response {
		data, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		resp, err := c.Post(ghServer.URL()+path, "application/json", bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	signupAndLogin := func(username, role string, team ...string) *http.Client {
		c := client()
		resp := postJSON(c, "/api/signup", map[string]any{"username": username, "password": "secret", "role": role, "team": team})
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		resp = postJSON(c, "/api/login", map[string]string{"username": username, "password": "secret"})
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		return c
	}

	It("takes a receipt from upload through supervisor approval", func() {
		alice := signupAndLogin("alice", "user")
		carol := signupAndLogin("carol", "user")
		bob := signupAndLogin("bob", "supervisor", "alice")

		// --- Step 1: upload and extract ---
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "receipt.pdf")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("%PDF-1.4 ... fake pdf content ..."))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := alice.Post(ghServer.URL()+"/api/receipts/extract", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var draft receipt.Receipt
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(respBody, &draft)).To(Succeed())
		Expect(draft.StoreName).To(Equal("Test Integration Store"))
		Expect(filepath.Ext(draft.ImageFilename)).To(Equal(".pdf"))

		_, err = store.Get(draft.ImageFilename)
		Expect(err).NotTo(HaveOccurred())

		// --- Step 2: save ---
		resp = postJSON(alice, "/api/receipts", draft)
		var saved receipt.Receipt
		Expect(json.NewDecoder(resp.Body).Decode(&saved)).To(Succeed())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(saved.ProcessedAt).NotTo(BeEmpty())

		// --- Step 3: visibility ---
		resp, err = carol.Get(ghServer.URL() + "/uploads/" + draft.ImageFilename)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

		resp, err = bob.Get(ghServer.URL() + "/uploads/" + draft.ImageFilename)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		// --- Step 4: review ---
		status := map[string]string{"username": "alice", "processed_at": saved.ProcessedAt, "status": "approved"}
		resp = postJSON(carol, "/api/receipts/status", status)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

		resp = postJSON(bob, "/api/receipts/status", status)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp, err = alice.Get(ghServer.URL() + "/api/receipts")
		Expect(err).NotTo(HaveOccurred())
		var mine []receipt.OwnedReceipt
		Expect(json.NewDecoder(resp.Body).Decode(&mine)).To(Succeed())
		resp.Body.Close()
		Expect(mine).To(HaveLen(1))
		Expect(mine[0].Status).To(Equal(receipt.StatusApproved))

		// --- Step 5: assistant and report ---
		resp = postJSON(bob, "/api/chat", map[string]string{"message": "How much?"})
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(model.lastChat.KnownUsers).To(Equal([]string{"alice"}))

		resp, err = bob.Get(ghServer.URL() + "/api/reports/team")
		Expect(err).NotTo(HaveOccurred())
		pdf, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(bytes.HasPrefix(pdf, []byte("%PDF-"))).To(BeTrue())
	})
})
