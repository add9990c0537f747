package index

import (
	"context"
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"
)

const exportBatch = 500

type parquetOrder struct {
	ID              int64  `parquet:"name=id, type=INT64"`
	Type            string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status          string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Buyer           string `parquet:"name=buyer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seller          string `parquet:"name=seller, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount          string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	LPFee           string `parquet:"name=lp_fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedUnix     int64  `parquet:"name=created_at, type=INT64"`
	AcceptedUnix    int64  `parquet:"name=accepted_at, type=INT64"`
	PaymentSentUnix int64  `parquet:"name=payment_sent_at, type=INT64"`
	ClosedUnix      int64  `parquet:"name=closed_at, type=INT64"`
	PendingPayout   bool   `parquet:"name=pending_payout, type=BOOLEAN"`
}

// ExportParquet writes every row matching f (ignoring its pagination) to w as
// a Snappy-compressed parquet file and returns the number of rows written.
func (i *Index) ExportParquet(ctx context.Context, w io.Writer, f Filter) (int, error) {
	q, err := i.query(ctx, f)
	if err != nil {
		return 0, err
	}
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(parquetOrder), 1)
	if err != nil {
		return 0, fmt.Errorf("index: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	for offset := 0; ; offset += exportBatch {
		var rows []OrderRow
		if err := q.Session(&gorm.Session{}).Limit(exportBatch).Offset(offset).Find(&rows).Error; err != nil {
			pw.WriteStop()
			return written, err
		}
		for _, row := range rows {
			if err := pw.Write(&parquetOrder{
				ID:              int64(row.ID),
				Type:            row.Type,
				Status:          row.Status,
				Buyer:           row.Buyer,
				Seller:          row.Seller,
				Amount:          row.Amount,
				LPFee:           row.LPFee,
				CreatedUnix:     row.CreatedUnix,
				AcceptedUnix:    row.AcceptedUnix,
				PaymentSentUnix: row.PaymentSentUnix,
				ClosedUnix:      row.ClosedUnix,
				PendingPayout:   row.PendingPayout,
			}); err != nil {
				pw.WriteStop()
				return written, fmt.Errorf("index: parquet write: %w", err)
			}
			written++
		}
		if len(rows) < exportBatch {
			break
		}
	}
	if err := pw.WriteStop(); err != nil {
		return written, fmt.Errorf("index: parquet flush: %w", err)
	}
	return written, nil
}
