package inventory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/pantry-tracker/internal/dates"
	"github.com/zombor/pantry-tracker/internal/storage"
)

var _ = Describe("Server", func() {
	var (
		store       *mockStore
		scanner     *mockScanner
		archive     *mockArchive
		service     *Service
		session     *Session
		queue       *ScanQueue
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, session, queue, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	}

	do := func(method, path string, body any) (*http.Response, []byte) {
		var reader io.Reader
		if body != nil {
			switch b := body.(type) {
			case string:
				reader = strings.NewReader(b)
			default:
				data, err := json.Marshal(b)
				Expect(err).NotTo(HaveOccurred())
				reader = bytes.NewReader(data)
			}
		}
		req, err := http.NewRequest(method, ghttpServer.URL()+path, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if auth.Username != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, data
	}

	upload := func(path string, fields map[string]string, files ...string) (*http.Response, []byte) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		for key, value := range fields {
			Expect(writer.WriteField(key, value)).To(Succeed())
		}
		for _, name := range files {
			header := textproto.MIMEHeader{}
			header.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
			header.Set("Content-Type", "image/jpeg")
			part, err := writer.CreatePart(header)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("fake image data"))
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+path, &buf)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, data
	}

	decodeError := func(data []byte) string {
		var body map[string]string
		Expect(json.Unmarshal(data, &body)).To(Succeed())
		return body["error"]
	}

	BeforeEach(func() {
		store = newMockStore()
		scanner = newMockScanner()
		archive = newMockArchive()
		service = NewServiceWithDeps(store, scanner, archive, &mockTimeSource{
			now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		})
		session = NewSession(context.Background(), store)
		guest := storage.LocalGuest
		store.signIn(&guest)
		queue = NewScanQueueWithDeps(scanner, 4, &mockIDGenerator{}, &mockTimeSource{now: time.Now()})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		queue.Stop()
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			resp, _ := do(http.MethodOptions, "/api/inventory", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})

		It("sets headers on normal responses", func() {
			resp, _ := do(http.MethodGet, "/api/status", nil)
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "pantry", Password: "secret"}
			setupServer()
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/inventory")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Pantry Tracker"))
		})

		It("accepts the configured credentials", func() {
			resp, _ := do(http.MethodGet, "/api/inventory", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	When("the session is not signed in yet", func() {
		BeforeEach(func() {
			session = NewSession(context.Background(), newMockStore())
			setupServer()
		})

		It("returns 503 for user operations", func() {
			resp, data := do(http.MethodGet, "/api/inventory", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(decodeError(data)).To(Equal("System initializing..."))
		})

		It("still reports status", func() {
			resp, data := do(http.MethodGet, "/api/status", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(data)).To(ContainSubstring(`"ready":false`))
		})
	})

	Describe("GET /api/status", func() {
		It("reports the mode and identity", func() {
			resp, data := do(http.MethodGet, "/api/status", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var status struct {
				Mode     string           `json:"mode"`
				Ready    bool             `json:"ready"`
				Identity storage.Identity `json:"identity"`
			}
			Expect(json.Unmarshal(data, &status)).To(Succeed())
			Expect(status.Mode).To(Equal("local"))
			Expect(status.Ready).To(BeTrue())
			Expect(status.Identity).To(Equal(storage.LocalGuest))
		})
	})

	Describe("inventory CRUD", func() {
		It("adds an item", func() {
			resp, data := do(http.MethodPost, "/api/inventory", NewItem{Name: "Milk", ExpiryDate: "2024-01-20"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var view ItemView
			Expect(json.Unmarshal(data, &view)).To(Succeed())
			Expect(view.ID).To(Equal("item-1"))
			Expect(view.UserID).To(Equal("local-guest-user"))
			Expect(view.Status.Label).To(Equal("Expired / Critical"))
		})

		It("rejects invalid items", func() {
			resp, data := do(http.MethodPost, "/api/inventory", NewItem{Name: "Milk"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(data)).To(ContainSubstring("expiryDate"))
		})

		It("rejects malformed bodies", func() {
			resp, _ := do(http.MethodPost, "/api/inventory", "{not json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("lists items with their status", func() {
			do(http.MethodPost, "/api/inventory", NewItem{Name: "Rice", ExpiryDate: "2025-01-01"})
			do(http.MethodPost, "/api/inventory", NewItem{Name: "Milk", ExpiryDate: "2024-01-20"})

			resp, data := do(http.MethodGet, "/api/inventory", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var views []ItemView
			Expect(json.Unmarshal(data, &views)).To(Succeed())
			Expect(views).To(HaveLen(2))
			Expect(views[0].Name).To(Equal("Milk"))
			Expect(views[1].Status.Bucket).To(Equal(dates.BucketGood))
		})

		It("returns an empty array when there are no items", func() {
			_, data := do(http.MethodGet, "/api/inventory", nil)
			Expect(strings.TrimSpace(string(data))).To(Equal("[]"))
		})

		It("updates an item", func() {
			do(http.MethodPost, "/api/inventory", NewItem{Name: "Milk", ExpiryDate: "2024-01-20"})

			resp, _ := do(http.MethodPatch, "/api/inventory/item-1", map[string]any{"quantity": 5})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(store.stored("local-guest-user")[0].Quantity).To(Equal(5))
		})

		It("returns 404 when updating an unknown item", func() {
			resp, _ := do(http.MethodPatch, "/api/inventory/missing", map[string]any{"quantity": 5})
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("adjusts the quantity", func() {
			do(http.MethodPost, "/api/inventory", NewItem{Name: "Milk", ExpiryDate: "2024-01-20"})

			resp, data := do(http.MethodPost, "/api/inventory/item-1/adjust", map[string]int{"delta": 2})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(data)).To(MatchJSON(`{"quantity": 3, "deleted": false}`))

			_, data = do(http.MethodPost, "/api/inventory/item-1/adjust", map[string]int{"delta": -3})
			Expect(string(data)).To(MatchJSON(`{"quantity": 0, "deleted": true}`))
			Expect(store.stored("local-guest-user")).To(BeEmpty())
		})

		It("rejects a zero adjustment", func() {
			resp, _ := do(http.MethodPost, "/api/inventory/item-1/adjust", map[string]int{"delta": 0})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("deletes an item", func() {
			do(http.MethodPost, "/api/inventory", NewItem{Name: "Milk", ExpiryDate: "2024-01-20"})

			resp, _ := do(http.MethodDelete, "/api/inventory/item-1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(store.stored("local-guest-user")).To(BeEmpty())
		})

		It("hides store failures", func() {
			store.listErr = errors.New("connection refused")
			resp, data := do(http.MethodGet, "/api/inventory", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(decodeError(data)).To(Equal("Internal server error"))
		})
	})

	Describe("import and export", func() {
		It("imports a JSON body", func() {
			resp, data := do(http.MethodPost, "/api/inventory/import",
				`[{"name": "Rice", "expiryDate": "2025-01-01"}, {"name": "No date"}]`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(data)).To(MatchJSON(`{"imported": 1, "message": "Imported 1 items."}`))
		})

		It("imports an uploaded file", func() {
			var buf bytes.Buffer
			writer := multipart.NewWriter(&buf)
			part, err := writer.CreateFormFile("file", "inventory.json")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte(`[{"name": "Rice", "expiryDate": "2025-01-01", "quantity": 2}]`))
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Close()).To(Succeed())

			resp, err := http.Post(ghttpServer.URL()+"/api/inventory/import", writer.FormDataContentType(), &buf)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(store.stored("local-guest-user")[0].Quantity).To(Equal(2))
		})

		It("rejects a document that is not an array", func() {
			resp, _ := do(http.MethodPost, "/api/inventory/import", `{"name": "Rice"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("downloads the export and archives it", func() {
			do(http.MethodPost, "/api/inventory", NewItem{Name: "Rice", ExpiryDate: "2025-01-01"})

			resp, data := do(http.MethodGet, "/api/inventory/export", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(Equal(`attachment; filename="inventory_2024-01-15.json"`))

			var items []storage.InventoryItem
			Expect(json.Unmarshal(data, &items)).To(Succeed())
			Expect(items).To(HaveLen(1))

			name := archiveName(Owner{UserID: storage.LocalGuest.UID}, "inventory_2024-01-15.json")
			var names []string
			_, data = do(http.MethodGet, "/api/exports", nil)
			Expect(json.Unmarshal(data, &names)).To(Succeed())
			Expect(names).To(Equal([]string{name}))

			resp, _ = do(http.MethodGet, "/api/exports/"+name, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("returns 404 for unknown exports", func() {
			resp, _ := do(http.MethodGet, "/api/exports/"+archiveName(Owner{UserID: storage.LocalGuest.UID}, "inventory_1999-01-01.json"), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/scan", func() {
		It("analyzes uploaded images", func() {
			resp, data := upload("/api/scan", nil, "label.jpg", "date.jpg")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result ScanResult
			Expect(json.Unmarshal(data, &result)).To(Succeed())
			Expect(result.ProductName).To(Equal("Test Product"))
			Expect(scanner.images[0]).To(HaveLen(2))
			Expect(scanner.images[0][0].ContentType).To(Equal("image/jpeg"))
			Expect(store.stored("local-guest-user")).To(BeEmpty())
		})

		It("passes a custom prompt through", func() {
			resp, _ := upload("/api/scan", map[string]string{"prompt": "Read the jar lid."}, "lid.jpg")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(scanner.prompts).To(Equal([]string{"Read the jar lid."}))
		})

		It("requires a file", func() {
			resp, data := upload("/api/scan", map[string]string{"prompt": "x"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(data)).To(ContainSubstring("No file"))
		})

		It("reports analysis failures", func() {
			scanner.err = errors.New("quota exceeded")
			resp, data := upload("/api/scan", nil, "label.jpg")
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(decodeError(data)).To(Equal("Failed to analyze images. Please try again."))
		})
	})

	Describe("quick scan jobs", func() {
		BeforeEach(func() {
			queue.Start(context.Background())
		})

		It("queues, lists and saves jobs", func() {
			resp, data := upload("/api/scan/jobs", map[string]string{"name": "Shelf"}, "shelf.jpg")
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			var jobs []ScanJob
			Expect(json.Unmarshal(data, &jobs)).To(Succeed())
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].Name).To(Equal("Shelf"))

			Eventually(func() JobStatus {
				_, data := do(http.MethodGet, "/api/scan/jobs", nil)
				var listed []ScanJob
				Expect(json.Unmarshal(data, &listed)).To(Succeed())
				if len(listed) == 0 {
					return ""
				}
				return listed[0].Status
			}).Should(Equal(JobSuccess))

			resp, data = do(http.MethodPost, "/api/scan/jobs/"+jobs[0].ID+"/save", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var view ItemView
			Expect(json.Unmarshal(data, &view)).To(Succeed())
			Expect(view.Source).To(Equal(storage.SourceQuickScan))
			Expect(view.Name).To(Equal("Test Product"))
			Expect(queue.Jobs()).To(BeEmpty())
		})

		It("returns 404 when saving an unknown job", func() {
			resp, _ := do(http.MethodPost, "/api/scan/jobs/nope/save", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("discards a job", func() {
			_, data := upload("/api/scan/jobs", nil, "shelf.jpg")
			var jobs []ScanJob
			Expect(json.Unmarshal(data, &jobs)).To(Succeed())

			resp, _ := do(http.MethodDelete, "/api/scan/jobs/"+jobs[0].ID, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(queue.Jobs()).To(BeEmpty())
		})
	})

	Describe("POST /api/scan/jobs when the queue is full", func() {
		It("queues nothing from an upload that does not fit", func() {
			resp, data := upload("/api/scan/jobs", nil, "1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg")
			Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(decodeError(data)).To(Equal(ErrQueueFull.Error()))
			Expect(queue.Jobs()).To(BeEmpty())
		})

		It("accepts an upload that fits", func() {
			resp, data := upload("/api/scan/jobs", nil, "1.jpg", "2.jpg")
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			var jobs []ScanJob
			Expect(json.Unmarshal(data, &jobs)).To(Succeed())
			Expect(jobs).To(HaveLen(2))
			Expect(queue.Jobs()).To(HaveLen(2))
		})
	})

	Describe("POST /api/dates/resolve", func() {
		It("resolves spoken dates", func() {
			resp, data := do(http.MethodPost, "/api/dates/resolve", map[string]string{"text": "march 1st 2024"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				Date   string       `json:"date"`
				Status dates.Status `json:"status"`
			}
			Expect(json.Unmarshal(data, &body)).To(Succeed())
			Expect(body.Date).To(Equal("2024-03-01"))
			Expect(body.Status.Bucket).To(Equal(dates.BucketWarning))
		})

		It("returns 422 when no date is heard", func() {
			resp, _ := do(http.MethodPost, "/api/dates/resolve", map[string]string{"text": "hello there"})
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		})
	})

	Describe("profile", func() {
		It("returns the guest profile", func() {
			_, data := do(http.MethodGet, "/api/profile", nil)
			Expect(string(data)).To(MatchJSON(`{"username": "Guest"}`))
		})

		It("saves the profile and uses it for new items", func() {
			resp, data := do(http.MethodPut, "/api/profile", map[string]string{"username": "Sam"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(data)).To(MatchJSON(`{"username": "Sam", "lastUpdate": "2024-01-15T10:00:00Z"}`))

			_, data = do(http.MethodPost, "/api/inventory", NewItem{Name: "Milk", ExpiryDate: "2024-01-20"})
			var view ItemView
			Expect(json.Unmarshal(data, &view)).To(Succeed())
			Expect(view.Username).To(Equal("Sam"))
		})

		It("requires a username", func() {
			resp, _ := do(http.MethodPut, "/api/profile", map[string]string{"username": ""})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/inventory/stream", func() {
		It("sends a snapshot on connect and after each change", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ghttpServer.URL()+"/api/inventory/stream", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			events := make(chan []ItemView, 4)
			go func() {
				defer GinkgoRecover()
				reader := bufio.NewReader(resp.Body)
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						close(events)
						return
					}
					if payload, ok := strings.CutPrefix(line, "data: "); ok {
						var views []ItemView
						Expect(json.Unmarshal([]byte(payload), &views)).To(Succeed())
						events <- views
					}
				}
			}()

			Eventually(events).Should(Receive(BeEmpty()))

			_, err = service.AddItem(context.Background(), Owner{UserID: "local-guest-user"}, NewItem{Name: "Milk", ExpiryDate: "2024-01-20"})
			Expect(err).NotTo(HaveOccurred())

			var views []ItemView
			Eventually(events).Should(Receive(&views))
			Expect(views).To(HaveLen(1))
			Expect(views[0].Name).To(Equal("Milk"))
			Expect(views[0].Status).NotTo(BeNil())
		})
	})
})
