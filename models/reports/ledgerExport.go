package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/dsadvance/parcel_backend/models"
	"github.com/xuri/excelize/v2"
)

// LedgerExportRequest names the subject whose ledger is exported.
type LedgerExportRequest struct {
	Role      models.WalletRole
	SubjectId int
	Since     time.Time
	Currency  models.Currency
}

// BuildLedgerWorkbook renders a wallet ledger as a spreadsheet, one sheet for
// the entries and one summary row per currency.
func BuildLedgerWorkbook(ctx context.Context, req LedgerExportRequest) (*excelize.File, error) {
	ledger, err := models.GetWalletLedger(ctx, req.Role, req.SubjectId, req.Since, req.Currency)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	const sheet = "Ledger"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{"Date", "Description", "Type", "Status", "Currency", "Debit", "Credit", "Running Balance"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, header)
	}

	for i, entry := range ledger.Items {
		row := i + 2
		debit, credit := "", entry.Amount.StringFixed(entry.Currency.DecimalPlaces())
		if !entry.IsCredit {
			debit, credit = credit, ""
		}
		values := []interface{}{
			entry.Date.Format("2006-01-02 15:04"),
			entry.Description,
			entry.Type,
			string(entry.Status),
			string(entry.Currency),
			debit,
			credit,
			entry.RunningBalance.StringFixed(entry.Currency.DecimalPlaces()),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(sheet, cell, value)
		}
	}

	summaryRow := len(ledger.Items) + 3
	f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "Balance")
	col := 2
	for _, currency := range models.AllCurrencies {
		balance, ok := ledger.Balance[currency]
		if !ok {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(col, summaryRow)
		f.SetCellValue(sheet, cell, fmt.Sprintf("%s %s", balance.StringFixed(currency.DecimalPlaces()), currency))
		col++
	}

	return f, nil
}
