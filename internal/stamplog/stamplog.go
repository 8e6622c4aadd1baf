// Package stamplog reads and writes recorded device stamp logs.
//
// A log is CSV with a header row naming the columns:
//
//	event_ticks,transmit_ticks,receive_time_s,offset_s
//	4294966296,4294969296,1700000000.0125,0
//
// event_ticks and receive_time_s are required. transmit_ticks may be
// omitted or left empty per row; offset_s defaults to zero. Blank lines and
// lines starting with '#' are ignored.
package stamplog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Column names.
const (
	ColEventTicks    = "event_ticks"
	ColTransmitTicks = "transmit_ticks"
	ColReceiveTime   = "receive_time_s"
	ColOffset        = "offset_s"
)

// Record is one logged event.
type Record struct {
	EventTicks    uint64
	TransmitTicks uint64
	HasTransmit   bool
	ReceiveTime   float64 // host seconds
	Offset        float64
}

// ErrNoRecords is returned by ReadFile for a log with a header but no rows.
var ErrNoRecords = errors.New("stamp log has no records")

// Read parses a stamp log from r.
func Read(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("stamp log is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{ColEventTicks, ColReceiveTime} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("stamp log header missing %q column", required)
		}
	}

	var records []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read stamp log: %w", err)
		}
		line, _ := cr.FieldPos(0)
		rec, err := parseRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseRow(row []string, cols map[string]int) (Record, error) {
	var rec Record
	var err error

	rec.EventTicks, err = strconv.ParseUint(field(row, cols, ColEventTicks), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid %s: %w", ColEventTicks, err)
	}
	rec.ReceiveTime, err = strconv.ParseFloat(field(row, cols, ColReceiveTime), 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid %s: %w", ColReceiveTime, err)
	}
	if s := field(row, cols, ColTransmitTicks); s != "" {
		rec.TransmitTicks, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid %s: %w", ColTransmitTicks, err)
		}
		rec.HasTransmit = true
	}
	if s := field(row, cols, ColOffset); s != "" {
		rec.Offset, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid %s: %w", ColOffset, err)
		}
	}
	return rec, nil
}

// ReadFile reads a stamp log from path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open stamp log: %w", err)
	}
	defer f.Close()

	records, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoRecords)
	}
	return records, nil
}

// AllHaveTransmit reports whether every record carries a transmit stamp.
func AllHaveTransmit(records []Record) bool {
	if len(records) == 0 {
		return false
	}
	for _, r := range records {
		if !r.HasTransmit {
			return false
		}
	}
	return true
}

// Writer writes stamp logs.
type Writer struct {
	cw            *csv.Writer
	withTransmit  bool
	headerWritten bool
}

// NewWriter returns a Writer. withTransmit adds the transmit_ticks column.
func NewWriter(w io.Writer, withTransmit bool) *Writer {
	return &Writer{cw: csv.NewWriter(w), withTransmit: withTransmit}
}

func (w *Writer) header() []string {
	if w.withTransmit {
		return []string{ColEventTicks, ColTransmitTicks, ColReceiveTime, ColOffset}
	}
	return []string{ColEventTicks, ColReceiveTime, ColOffset}
}

// Write appends one record, writing the header first if needed.
func (w *Writer) Write(rec Record) error {
	if !w.headerWritten {
		if err := w.cw.Write(w.header()); err != nil {
			return err
		}
		w.headerWritten = true
	}
	row := []string{strconv.FormatUint(rec.EventTicks, 10)}
	if w.withTransmit {
		tx := ""
		if rec.HasTransmit {
			tx = strconv.FormatUint(rec.TransmitTicks, 10)
		}
		row = append(row, tx)
	}
	row = append(row,
		strconv.FormatFloat(rec.ReceiveTime, 'f', -1, 64),
		strconv.FormatFloat(rec.Offset, 'f', -1, 64),
	)
	return w.cw.Write(row)
}

// Flush writes buffered rows and reports any write error.
func (w *Writer) Flush() error {
	w.cw.Flush()
	return w.cw.Error()
}

// WriteFile writes records to path, creating or truncating it.
func WriteFile(path string, records []Record, withTransmit bool) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create stamp log: %w", err)
	}
	w := NewWriter(f, withTransmit)
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("failed to write stamp log: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write stamp log: %w", err)
	}
	return f.Close()
}
