// Package importer reads inventory count sheets exported from spreadsheet tools.
package importer

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/store"
)

var headerAliases = map[string]string{
	"product_id":       "product_id",
	"product id":       "product_id",
	"produto":          "product_id",
	"id":               "product_id",
	"codigo":           "product_id",
	"código":           "product_id",
	"barcode":          "barcode",
	"ean":              "barcode",
	"gtin":             "barcode",
	"codigo de barras": "barcode",
	"código de barras": "barcode",
	"counted_qty":      "counted_qty",
	"counted qty":      "counted_qty",
	"quantity":         "counted_qty",
	"qty":              "counted_qty",
	"quantidade":       "counted_qty",
	"qtd":              "counted_qty",
	"contagem":         "counted_qty",
}

// ParseCountSheet reads the first sheet of an xlsx workbook. The header row
// must name a quantity column and at least one of product id or barcode.
// Blank rows are skipped.
func ParseCountSheet(reader io.Reader) ([]domain.CountSheetRow, error) {
	file, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, store.Invalid("file", fmt.Sprintf("open excel file: %v", err))
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, store.Invalid("file", "excel file has no sheets")
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, store.Invalid("file", fmt.Sprintf("read sheet rows: %v", err))
	}
	if len(rows) == 0 {
		return nil, store.Invalid("file", "excel file is empty")
	}

	colMap := mapColumns(rows[0])
	if _, ok := colMap["counted_qty"]; !ok {
		return nil, store.Invalid("file", "missing required column: counted_qty")
	}
	_, hasID := colMap["product_id"]
	_, hasBarcode := colMap["barcode"]
	if !hasID && !hasBarcode {
		return nil, store.Invalid("file", "missing required column: product_id or barcode")
	}

	result := make([]domain.CountSheetRow, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		row := domain.CountSheetRow{Line: index + 1}
		if idx, ok := colMap["product_id"]; ok {
			row.ProductID = strings.TrimSpace(readCell(cells, idx))
		}
		if idx, ok := colMap["barcode"]; ok {
			row.Barcode = strings.TrimSpace(readCell(cells, idx))
		}
		raw := strings.TrimSpace(readCell(cells, colMap["counted_qty"]))
		if row.ProductID == "" && row.Barcode == "" && raw == "" {
			continue
		}
		if row.ProductID == "" && row.Barcode == "" {
			return nil, store.Invalid("file", fmt.Sprintf("row %d has no product id or barcode", row.Line))
		}

		qty, err := parseQuantity(raw)
		if err != nil {
			return nil, store.Invalid("file", fmt.Sprintf("row %d invalid counted_qty: %v", row.Line, err))
		}
		if qty.IsNegative() {
			return nil, store.Invalid("file", fmt.Sprintf("row %d counted_qty must not be negative", row.Line))
		}
		row.CountedQty = qty.Round(domain.QuantityPlaces)
		result = append(result, row)
	}
	if len(result) == 0 {
		return nil, store.Invalid("file", "excel file has no count rows")
	}
	return result, nil
}

func mapColumns(header []string) map[string]int {
	colMap := make(map[string]int, len(header))
	for idx, cell := range header {
		key := strings.ToLower(strings.TrimSpace(cell))
		if mapped, ok := headerAliases[key]; ok {
			if _, exists := colMap[mapped]; !exists {
				colMap[mapped] = idx
			}
		}
	}
	return colMap
}

func readCell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

// parseQuantity accepts both 1234.5 and the pt-BR 1.234,5 forms.
func parseQuantity(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("value is empty")
	}
	value := strings.ReplaceAll(raw, " ", "")
	if strings.Contains(value, ",") {
		value = strings.ReplaceAll(value, ".", "")
		value = strings.ReplaceAll(value, ",", ".")
	}
	return decimal.NewFromString(value)
}
