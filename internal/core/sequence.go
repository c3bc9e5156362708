package core

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

// DocType is a numbered document family. Each has its own yearly counter.
type DocType string

const (
	DocOrder        DocType = "ORDER"
	DocInvoice      DocType = "INVOICE"
	DocDeliveryNote DocType = "DELIVERY_NOTE"
)

// Prefix returns the printed prefix of the document number.
func (d DocType) Prefix() string {
	switch d {
	case DocOrder:
		return "CMD"
	case DocInvoice:
		return "FAC"
	case DocDeliveryNote:
		return "BL"
	}
	return string(d)
}

// sequenceKey is the global_sequences key: counters run continuously over a calendar year.
func sequenceKey(d DocType, date time.Time) string {
	return fmt.Sprintf("%s-%d", d, date.Year())
}

// FormatDocumentNumber renders PREFIX-YYYYMMDD-NNNN.
func FormatDocumentNumber(d DocType, date time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", d.Prefix(), date.Format("20060102"), seq)
}

// SequenceGenerator hands out collision-free document numbers.
type SequenceGenerator interface {
	// NextTx allocates inside the caller's transaction. The counter row stays locked
	// until that transaction ends, which serializes concurrent callers per key.
	NextTx(ctx context.Context, tx pgx.Tx, docType DocType, date time.Time) (string, error)
	// Next allocates in its own transaction.
	Next(ctx context.Context, docType DocType, date time.Time) (string, error)
}

type sequenceGenerator struct {
	pool *pgxpool.Pool
}

func NewSequenceGenerator(pool *pgxpool.Pool) SequenceGenerator {
	return &sequenceGenerator{pool: pool}
}

func (g *sequenceGenerator) Next(ctx context.Context, docType DocType, date time.Time) (string, error) {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return "", storeError("begin sequence transaction", "sequence", docType, err)
	}
	defer tx.Rollback(ctx)

	number, err := g.NextTx(ctx, tx, docType, date)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", storeError("commit sequence", "sequence", docType, err)
	}
	return number, nil
}

func (g *sequenceGenerator) NextTx(ctx context.Context, tx pgx.Tx, docType DocType, date time.Time) (number string, err error) {
	ctx, span := startSpan(ctx, "sequence.next", attribute.String("doc_type", string(docType)))
	defer func() { endSpan(span, "sequence.next", err) }()

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO global_sequences (key, seq)
		VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE SET seq = global_sequences.seq + 1
		RETURNING seq
	`, sequenceKey(docType, date)).Scan(&seq)
	if err != nil {
		return "", storeError("allocate "+string(docType)+" number", "sequence", docType, err)
	}
	return FormatDocumentNumber(docType, date, seq), nil
}

var documentNumberPattern = regexp.MustCompile(`^[A-Z]+-\d{8}-(\d{4,})$`)

// derivedNumber reuses the counter suffix of orderNumber under another prefix.
// It never touches a counter. A nil order number yields the UNKNOWN suffix,
// a malformed one yields 0000.
func derivedNumber(docType DocType, orderNumber *string, date time.Time) string {
	prefix := docType.Prefix() + "-" + date.Format("20060102") + "-"
	if orderNumber == nil {
		return prefix + "UNKNOWN"
	}
	m := documentNumberPattern.FindStringSubmatch(*orderNumber)
	if m == nil {
		return prefix + "0000"
	}
	return prefix + m[1]
}

// InvoiceNumberFromOrderNumber maps CMD-20260118-0049 to FAC-<date>-0049.
func InvoiceNumberFromOrderNumber(orderNumber *string, date time.Time) string {
	return derivedNumber(DocInvoice, orderNumber, date)
}

// DeliveryNoteNumberFromOrderNumber maps CMD-20260118-0049 to BL-<date>-0049.
func DeliveryNoteNumberFromOrderNumber(orderNumber *string, date time.Time) string {
	return derivedNumber(DocDeliveryNote, orderNumber, date)
}
