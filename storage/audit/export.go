package audit

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type settlementRow struct {
	AssetID          int64  `parquet:"name=asset_id, type=INT64"`
	Round            int64  `parquet:"name=round, type=INT64"`
	Outcome          string `parquet:"name=outcome, type=BYTE_ARRAY, convertedtype=UTF8"`
	Caller           string `parquet:"name=caller, type=BYTE_ARRAY, convertedtype=UTF8"`
	Buyer            string `parquet:"name=buyer, type=BYTE_ARRAY, convertedtype=UTF8"`
	PurchasePrice    string `parquet:"name=purchase_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Earnest          string `parquet:"name=earnest, type=BYTE_ARRAY, convertedtype=UTF8"`
	Loan             string `parquet:"name=loan, type=BYTE_ARRAY, convertedtype=UTF8"`
	InspectionPassed bool   `parquet:"name=inspection_passed, type=BOOLEAN"`
	AssetRecipient   string `parquet:"name=asset_recipient, type=BYTE_ARRAY, convertedtype=UTF8"`
	Hash             string `parquet:"name=hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledAt        string `parquet:"name=settled_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportSettlements writes every settlement row to a Snappy-compressed
// parquet file and returns the number of rows written.
func (s *Store) ExportSettlements(path string) (int, error) {
	rows, err := s.Settlements()
	if err != nil {
		return 0, err
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(settlementRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &settlementRow{
			AssetID:          int64(row.AssetID),
			Round:            int64(row.Round),
			Outcome:          row.Outcome,
			Caller:           row.Caller,
			Buyer:            row.Buyer,
			PurchasePrice:    row.PurchasePrice,
			Earnest:          row.Earnest,
			Loan:             row.Loan,
			InspectionPassed: row.InspectionPassed,
			AssetRecipient:   row.AssetRecipient,
			Hash:             row.Hash,
			SettledAt:        row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("audit: close parquet file: %w", err)
	}
	return len(rows), nil
}
