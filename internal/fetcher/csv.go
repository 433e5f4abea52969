package fetcher

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// ReadCSV parses a CSV metadata table. The first row is the header; rows
// may have fewer fields than the header (trailing columns read as empty).
func ReadCSV(r io.Reader) ([]string, []Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, eris.New("csv: empty file")
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "csv: read header")
	}
	header = trimHeader(header)

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "csv: read row")
		}
		records = append(records, rec)
	}

	return header, rowsFromRecords(header, records), nil
}
