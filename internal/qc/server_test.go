package qc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/invoice-qc/internal/invoice"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(db, extractor, storage,
			&mockIDGenerator{ids: []string{"id-1", "id-2"}},
			&mockTimeSource{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	postJSON := func(path, body string) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+path, "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	postFile := func(path, filename string, data []byte) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		part, _ := writer.CreateFormFile("file", filename)
		part.Write(data)
		writer.Close()

		resp, err := http.Post(ghttpServer.URL()+path, writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	readBody := func(resp *http.Response) []byte {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return body
	}

	readReport := func(resp *http.Response) invoice.Report {
		var report invoice.Report
		Expect(json.Unmarshal(readBody(resp), &report)).To(Succeed())
		return report
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = newMockExtractor()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("handleHealth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should answer without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(readBody(resp))).To(MatchJSON(`{"status":"ok"}`))
		})
	})

	Describe("handleValidateJSON", func() {
		When("a list of invoices is posted", func() {
			It("should return the report", func() {
				resp := postJSON("/validate-json", `[
					{"invoice_number":"A","invoice_date":"2024-01-15","seller_name":"S","buyer_name":"B","subtotal":100,"tax_amount":19,"total_amount":119},
					{"invoice_number":"C","invoice_date":"15/01/2024"}
				]`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("X-Report-ID")).To(Equal("id-1"))

				report := readReport(resp)
				Expect(report.Summary.TotalInvoices).To(Equal(2))
				Expect(report.Summary.ValidInvoices).To(Equal(1))
				Expect(report.PerInvoice[1].Errors).To(ContainElement("missing_field:seller_name"))
			})

			It("should store the report", func() {
				resp := postJSON("/validate-json", `[{"invoice_number":"A"}]`)
				resp.Body.Close()
				Expect(db.reports).To(HaveKey("id-1"))
				Expect(db.reports["id-1"].Source).To(Equal(SourceAPI))
			})
		})

		When("a single object is posted", func() {
			It("should return status Bad Request", func() {
				resp := postJSON("/validate-json", `{"invoice_number":"A"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("data follows the list", func() {
			It("should return status Bad Request", func() {
				resp := postJSON("/validate-json", `[{"invoice_number":"A"}] trailing`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
				Expect(db.reports).To(BeEmpty())
			})
		})

		When("the body is not JSON", func() {
			It("should return status Bad Request", func() {
				resp := postJSON("/validate-json", `not json`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("an empty list is posted", func() {
			It("should return an empty report", func() {
				resp := postJSON("/validate-json", `[]`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				report := readReport(resp)
				Expect(report.PerInvoice).To(BeEmpty())
				Expect(report.Summary.TotalInvoices).To(BeZero())
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("disk full")
			})

			It("should return status Internal Server Error", func() {
				resp := postJSON("/validate-json", `[]`)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(string(readBody(resp))).To(ContainSubstring("Validation error"))
			})
		})
	})

	Describe("handleValidate", func() {
		When("a single object is posted", func() {
			It("should validate it as a batch of one", func() {
				resp := postJSON("/validate", `{"invoice_number":"A","invoice_date":"2024-01-15"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				report := readReport(resp)
				Expect(report.PerInvoice).To(HaveLen(1))
				Expect(report.PerInvoice[0].InvoiceID).To(Equal("A"))
			})
		})

		When("a list is posted", func() {
			It("should validate every entry", func() {
				resp := postJSON("/validate", `[{"invoice_number":"A"},{"invoice_number":"B"}]`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(readReport(resp).PerInvoice).To(HaveLen(2))
			})
		})

		When("a scalar is posted", func() {
			It("should explain the expected shape", func() {
				resp := postJSON("/validate", `42`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(string(readBody(resp))).To(MatchJSON(`{"error":"Expecting a list of invoices or a single invoice dict."}`))
			})
		})
	})

	Describe("handleExtract", func() {
		When("extraction succeeds", func() {
			It("should return the extracted record", func() {
				resp := postFile("/extract", "invoice.pdf", []byte("%PDF-1.7"))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var rec map[string]any
				Expect(json.Unmarshal(readBody(resp), &rec)).To(Succeed())
				Expect(rec).To(HaveKeyWithValue("invoice_number", "AUFNR1"))
				Expect(rec).To(HaveKeyWithValue("filename", "invoice.pdf"))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				writer.WriteField("other", "value")
				writer.Close()

				resp, err := http.Post(ghttpServer.URL()+"/extract", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.extractErr = errors.New("unreadable")
			})

			It("should return status Bad Request", func() {
				resp := postFile("/extract", "invoice.pdf", []byte("%PDF-1.7"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("no extractor is configured", func() {
			JustBeforeEach(func() {
				service = NewServiceWithDeps(db, nil, storage, &mockIDGenerator{ids: []string{"x"}}, &mockTimeSource{})
				server = NewServerWithMux(service, auth, http.NewServeMux())
				ghttpServer.Close()
				ghttpServer = ghttp.NewServer()
				ghttpServer.AppendHandlers(server.ServeHTTP)
			})

			It("should return status Not Implemented", func() {
				resp := postFile("/extract", "invoice.pdf", []byte("%PDF-1.7"))
				Expect(resp.StatusCode).To(Equal(http.StatusNotImplemented))
				resp.Body.Close()
			})
		})
	})

	Describe("handleExtractValidate", func() {
		It("should return the report of the extracted invoice", func() {
			resp := postFile("/extract-validate", "invoice.pdf", []byte("%PDF-1.7"))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(resp.Header.Get("X-Report-ID")).To(Equal("id-2"))

			report := readReport(resp)
			Expect(report.PerInvoice).To(HaveLen(1))
			Expect(report.PerInvoice[0].IsValid).To(BeTrue())
			Expect(db.reports["id-2"].Document).To(Equal("id-1_invoice.pdf"))
		})
	})

	Describe("report history", func() {
		BeforeEach(func() {
			db.reports["r1"] = &StoredReport{
				ID:        "r1",
				Source:    SourceCLI,
				Document:  "r1.pdf",
				Report:    invoice.Validate([]invoice.Record{{"invoice_number": "A"}}),
				CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			}
			storage.files["r1.pdf"] = []byte("%PDF-1.7 body")
		})

		Describe("handleListReports", func() {
			It("should return the summaries", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/reports")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var summaries []ReportSummary
				Expect(json.Unmarshal(readBody(resp), &summaries)).To(Succeed())
				Expect(summaries).To(HaveLen(1))
				Expect(summaries[0].Summary.InvalidInvoices).To(Equal(1))
			})

			When("service returns an error", func() {
				BeforeEach(func() {
					db.listErr = errors.New("boom")
				})

				It("should return status Internal Server Error", func() {
					resp, err := http.Get(ghttpServer.URL() + "/api/reports")
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
					resp.Body.Close()
				})
			})
		})

		Describe("handleGetReport", func() {
			When("report exists", func() {
				It("should return the stored report", func() {
					resp, err := http.Get(ghttpServer.URL() + "/api/reports/r1")
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusOK))

					var stored StoredReport
					Expect(json.Unmarshal(readBody(resp), &stored)).To(Succeed())
					Expect(stored.ID).To(Equal("r1"))
					Expect(stored.Report.PerInvoice).To(HaveLen(1))
				})
			})

			When("report does not exist", func() {
				It("should return status Not Found", func() {
					resp, err := http.Get(ghttpServer.URL() + "/api/reports/missing")
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
					resp.Body.Close()
				})
			})
		})

		When("the database fails to read a report", func() {
			BeforeEach(func() {
				db.getErr = errors.New("corrupt page")
			})

			It("should answer 500 for the report", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/reports/r1")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})

			It("should answer 500 for the export", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/reports/r1/export?format=json")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})

		Describe("handleGetDocument", func() {
			It("should return the uploaded file", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/reports/r1/document")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))
				Expect(string(readBody(resp))).To(Equal("%PDF-1.7 body"))
			})
		})

		Describe("handleDeleteReport", func() {
			When("deletion succeeds", func() {
				It("should return status No Content", func() {
					req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/reports/r1", nil)
					Expect(err).NotTo(HaveOccurred())
					resp, err := http.DefaultClient.Do(req)
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
					resp.Body.Close()

					Expect(db.reports).NotTo(HaveKey("r1"))
					Expect(storage.files).NotTo(HaveKey("r1.pdf"))
				})
			})

			When("report does not exist", func() {
				It("should return status Not Found", func() {
					req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/reports/missing", nil)
					Expect(err).NotTo(HaveOccurred())
					resp, err := http.DefaultClient.Do(req)
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
					resp.Body.Close()
				})
			})

			When("service returns an error", func() {
				BeforeEach(func() {
					db.deleteErr = errors.New("locked")
				})

				It("should return status Internal Server Error", func() {
					req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/reports/r1", nil)
					Expect(err).NotTo(HaveOccurred())
					resp, err := http.DefaultClient.Do(req)
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
					resp.Body.Close()
				})
			})
		})

		Describe("handleExportReport", func() {
			export := func(query string) *http.Response {
				resp, err := http.Get(ghttpServer.URL() + "/api/reports/r1/export" + query)
				Expect(err).NotTo(HaveOccurred())
				return resp
			}

			It("should default to JSON", func() {
				resp := export("")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring(`filename="report-r1.json"`))
				Expect(readReport(resp).Summary.TotalInvoices).To(Equal(1))
			})

			It("should export YAML", func() {
				resp := export("?format=yaml")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/yaml"))
				Expect(string(readBody(resp))).To(ContainSubstring("total_invoices: 1"))
			})

			It("should export a workbook", func() {
				resp := export("?format=xlsx")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				f, err := excelize.OpenReader(bytes.NewReader(readBody(resp)))
				Expect(err).NotTo(HaveOccurred())
				defer f.Close()
				Expect(f.GetSheetList()).To(Equal([]string{"Invoices", "Summary"}))
			})

			It("should reject unknown formats", func() {
				resp := export("?format=csv")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		request := func(header string) *http.Response {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/reports", nil)
			Expect(err).NotTo(HaveOccurred())
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("valid credentials are provided", func() {
			It("should return status OK", func() {
				resp := request("Basic " + base64.StdEncoding.EncodeToString([]byte("admin:secret")))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})

		When("invalid credentials are provided", func() {
			It("should return status Unauthorized", func() {
				resp := request("Basic " + base64.StdEncoding.EncodeToString([]byte("admin:wrong")))
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})

		When("no authorization header is provided", func() {
			It("should ask for credentials", func() {
				resp := request("")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
				resp.Body.Close()
			})
		})
	})

	Describe("CORS preflight", func() {
		It("should answer OPTIONS with the CORS headers", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/validate", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Expose-Headers")).To(Equal("X-Report-ID"))
			resp.Body.Close()
		})
	})
})
