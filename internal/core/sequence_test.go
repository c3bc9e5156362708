package core_test

import (
	"testing"
	"time"

	"wholesale-fulfillment/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestFormatDocumentNumber(t *testing.T) {
	date := time.Date(2026, 1, 18, 15, 4, 0, 0, time.UTC)

	assert.Equal(t, "CMD-20260118-0049", core.FormatDocumentNumber(core.DocOrder, date, 49))
	assert.Equal(t, "FAC-20260118-0001", core.FormatDocumentNumber(core.DocInvoice, date, 1))
	assert.Equal(t, "BL-20260118-12345", core.FormatDocumentNumber(core.DocDeliveryNote, date, 12345))
}

func TestDerivedNumbers(t *testing.T) {
	date := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	orderNumber := "CMD-20260118-0049"
	malformed := "legacy-49"

	assert.Equal(t, "FAC-20260203-0049", core.InvoiceNumberFromOrderNumber(&orderNumber, date))
	assert.Equal(t, "BL-20260203-0049", core.DeliveryNoteNumberFromOrderNumber(&orderNumber, date))
	assert.Equal(t, "BL-20260203-0000", core.DeliveryNoteNumberFromOrderNumber(&malformed, date))
	assert.Equal(t, "FAC-20260203-UNKNOWN", core.InvoiceNumberFromOrderNumber(nil, date))
}
