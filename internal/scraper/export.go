package scraper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/mmeshcher/gophermart-payments/internal/config"
	"github.com/mmeshcher/gophermart-payments/internal/validation"
)

// ErrMissingColumn возвращается, если в заголовке выгрузки нет нужной колонки.
var ErrMissingColumn = errors.New("export header misses a required column")

// Row описывает строку выгрузки истории операций.
type Row struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	Reference   string
}

// latestExport возвращает путь к последнему изменённому файлу выгрузки в dir.
// Недокачанные файлы пропускаются. Пустая строка означает, что файлов нет.
func latestExport(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read downloads dir: %w", err)
	}

	var (
		latest   string
		latestAt time.Time
	)
	for _, e := range entries {
		if !e.Type().IsRegular() || partialDownload(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestAt) {
			latest = filepath.Join(dir, e.Name())
			latestAt = info.ModTime()
		}
	}
	return latest, nil
}

func partialDownload(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".crdownload" || ext == ".tmp" || ext == ".part"
}

// ParseExport читает файл выгрузки. Строки с нераспознанной суммой пропускаются.
func ParseExport(path string, cfg config.ExportConfig) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	return parseRows(f, cfg)
}

func parseRows(src io.Reader, cfg config.ExportConfig) ([]Row, error) {
	r, err := decoded(src, cfg.Charset)
	if err != nil {
		return nil, err
	}

	delimiter := []rune(cfg.Delimiter)
	if len(delimiter) != 1 {
		return nil, fmt.Errorf("bad delimiter %q", cfg.Delimiter)
	}

	reader := csv.NewReader(r)
	reader.Comma = delimiter[0]
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	lookup := func(name string) (int, bool) {
		i, ok := columns[strings.ToLower(strings.TrimSpace(name))]
		return i, ok
	}

	amountIdx, ok := lookup(cfg.AmountColumn)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, cfg.AmountColumn)
	}
	currencyIdx, ok := lookup(cfg.CurrencyColumn)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, cfg.CurrencyColumn)
	}
	descriptionIdx, ok := lookup(cfg.DescriptionColumn)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, cfg.DescriptionColumn)
	}
	referenceIdx, hasReference := lookup(cfg.ReferenceColumn)

	field := func(record []string, i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		amount, err := validation.ParseAmount(field(record, amountIdx))
		if err != nil {
			continue
		}

		row := Row{
			Amount:      amount,
			Currency:    field(record, currencyIdx),
			Description: field(record, descriptionIdx),
		}
		if hasReference {
			row.Reference = field(record, referenceIdx)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func decoded(src io.Reader, charset string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return src, nil
	case "windows-1251", "cp1251":
		return charmap.Windows1251.NewDecoder().Reader(src), nil
	default:
		return nil, fmt.Errorf("unsupported export charset %q", charset)
	}
}

// findRow возвращает первую строку с проверочной суммой, валютой и кодом в описании.
func findRow(rows []Row, amount decimal.Decimal, currency, code string) (Row, bool) {
	for _, row := range rows {
		if !row.Amount.Equal(amount) {
			continue
		}
		if !strings.EqualFold(row.Currency, currency) {
			continue
		}
		if strings.TrimSpace(row.Description) != code {
			continue
		}
		return row, true
	}
	return Row{}, false
}
