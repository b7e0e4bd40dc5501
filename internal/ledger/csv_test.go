package ledger_test

import (
	"bytes"
	"encoding/csv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/pocket-ledger/internal/ledger"
)

var _ = Describe("ExportCSV", func() {
	var (
		entries []*ledger.Entry
		buf     *bytes.Buffer
		err     error
	)

	BeforeEach(func() {
		// Newest first, the order ListEntries returns.
		entries = []*ledger.Entry{
			{
				ID:          "id-2",
				Date:        time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
				Total:       10.5,
				Type:        ledger.TypeScan,
				Description: `Receipt with "quotes", commas`,
				Calculation: "2.50 + 8.00 =",
				Category:    "Groceries",
			},
			{
				ID:          "id-1",
				Date:        time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
				Total:       3,
				Type:        ledger.TypeManual,
				Calculation: "1 + 2",
			},
		}
		buf = &bytes.Buffer{}
	})

	JustBeforeEach(func() {
		err = ledger.ExportCSV(buf, entries)
	})

	It("should not return an error", func() {
		Expect(err).NotTo(HaveOccurred())
	})

	It("writes the fixed header", func() {
		records, readErr := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
		Expect(readErr).NotTo(HaveOccurred())
		Expect(records[0]).To(Equal([]string{"ID", "Date", "Type", "Total", "Description", "Calculation", "Category"}))
	})

	It("writes rows oldest first", func() {
		records, _ := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
		Expect(records[1][0]).To(Equal("id-1"))
		Expect(records[2][0]).To(Equal("id-2"))
	})

	It("formats totals with 2 decimals", func() {
		records, _ := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
		Expect(records[1][3]).To(Equal("3.00"))
		Expect(records[2][3]).To(Equal("10.50"))
	})

	It("round-trips fields containing quotes and commas", func() {
		records, readErr := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
		Expect(readErr).NotTo(HaveOccurred())
		Expect(records[2][4]).To(Equal(`Receipt with "quotes", commas`))
	})

	It("round-trips type and category", func() {
		records, _ := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
		Expect(records[1][2]).To(Equal("manual"))
		Expect(records[2][2]).To(Equal("scan"))
		Expect(records[2][6]).To(Equal("Groceries"))
	})

	When("the history is empty", func() {
		BeforeEach(func() {
			entries = nil
		})

		It("writes only the header", func() {
			records, readErr := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
			Expect(readErr).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
		})
	})
})
