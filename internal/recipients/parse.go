// Package recipients turns recipient files into dispatch jobs.
package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/ignite/zns-dispatch/internal/dispatch"
)

// DefaultMaxRows caps a single file.
const DefaultMaxRows = 50000

// maxReportedRows bounds the RowErrors returned for one file.
const maxReportedRows = 50

var (
	ErrEmptyFile          = errors.New("recipients: file has no data rows")
	ErrMissingPhoneColumn = errors.New("recipients: no phone column in header")
	ErrTooManyRows        = errors.New("recipients: row limit exceeded")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrDuplicatePhone     = errors.New("duplicate phone number")
	ErrInvalidMapping     = errors.New("recipients: invalid param mapping")
	ErrMissingTemplate    = errors.New("recipients: template id is required")
)

// phoneAliases are header names accepted as the phone column.
var phoneAliases = []string{"phone", "phone_number", "phonenumber", "mobile", "msisdn", "sdt", "so_dien_thoai"}

// trackingColumn, when present, supplies the tracking id instead of a
// generated one.
const trackingColumn = "tracking_id"

// Options controls how rows become jobs.
type Options struct {
	TemplateID  string
	CountryCode string
	MaxRows     int
	// PhoneColumn overrides alias detection.
	PhoneColumn string
	// ParamMapping maps template params to Liquid expressions over the row.
	// When empty every non-phone column becomes a param.
	ParamMapping map[string]string
}

// RowError describes why one data row was rejected. Row is the 1-based
// line number in the file, header included.
type RowError struct {
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d, column %q: %v", e.Row, e.Column, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// RowErrors is returned when any row is invalid; nothing from the file is
// sent in that case.
type RowErrors []*RowError

func (e RowErrors) Error() string {
	parts := make([]string, 0, 3)
	for i, re := range e {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("and %d more", len(e)-3))
			break
		}
		parts = append(parts, re.Error())
	}
	return fmt.Sprintf("recipients: %d invalid rows: %s", len(e), strings.Join(parts, "; "))
}

func (e RowErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, re := range e {
		errs[i] = re
	}
	return errs
}

// Parse reads a CSV with a header row and returns one job per data row,
// numbered from 1 in file order.
func Parse(r io.Reader, opts Options) ([]dispatch.Job, error) {
	if strings.TrimSpace(opts.TemplateID) == "" {
		return nil, ErrMissingTemplate
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	columns := normalizeHeader(header)

	phoneIdx := findPhoneColumn(columns, opts.PhoneColumn)
	if phoneIdx < 0 {
		return nil, fmt.Errorf("%w (accepted: %s)", ErrMissingPhoneColumn, strings.Join(phoneAliases, ", "))
	}

	mapper, err := newParamMapper(opts.ParamMapping)
	if err != nil {
		return nil, err
	}

	var (
		jobs    []dispatch.Job
		rowErrs RowErrors
		seen    = make(map[string]int)
		line    = 1
		rows    int
	)

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			rowErrs = appendRowError(rowErrs, &RowError{Row: line, Err: err})
			continue
		}
		line, _ = cr.FieldPos(0)
		if blank(record) {
			continue
		}
		rows++
		if rows > opts.MaxRows {
			return nil, fmt.Errorf("%w: more than %d rows", ErrTooManyRows, opts.MaxRows)
		}

		row := rowValues(columns, record)

		phone, err := NormalizePhone(field(record, phoneIdx), opts.CountryCode)
		if err != nil {
			rowErrs = appendRowError(rowErrs, &RowError{Row: line, Column: columns[phoneIdx], Err: err})
			continue
		}
		if first, dup := seen[phone]; dup {
			rowErrs = appendRowError(rowErrs, &RowError{
				Row:    line,
				Column: columns[phoneIdx],
				Err:    fmt.Errorf("%w: first seen on row %d", ErrDuplicatePhone, first),
			})
			continue
		}
		seen[phone] = line

		params, err := mapper.params(row, columns[phoneIdx])
		if err != nil {
			rowErrs = appendRowError(rowErrs, &RowError{Row: line, Err: err})
			continue
		}

		tracking := row[trackingColumn]
		if tracking == "" {
			tracking = uuid.NewString()
		}

		jobs = append(jobs, dispatch.Job{
			SequenceNumber: len(jobs) + 1,
			Payload: dispatch.Payload{
				Recipient:  phone,
				TemplateID: opts.TemplateID,
				Params:     params,
				TrackingID: tracking,
			},
		})
	}

	if len(rowErrs) > 0 {
		return nil, rowErrs
	}
	if len(jobs) == 0 {
		return nil, ErrEmptyFile
	}
	return jobs, nil
}

func appendRowError(errs RowErrors, e *RowError) RowErrors {
	if len(errs) >= maxReportedRows {
		return errs
	}
	return append(errs, e)
}

func normalizeHeader(header []string) []string {
	cols := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		cols[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return cols
}

func findPhoneColumn(columns []string, override string) int {
	if override != "" {
		override = strings.ToLower(strings.TrimSpace(override))
		for i, c := range columns {
			if c == override {
				return i
			}
		}
		return -1
	}
	for _, alias := range phoneAliases {
		for i, c := range columns {
			if c == alias {
				return i
			}
		}
	}
	return -1
}

func rowValues(columns, record []string) map[string]string {
	row := make(map[string]string, len(columns))
	for i, c := range columns {
		if c == "" {
			continue
		}
		row[c] = strings.TrimSpace(field(record, i))
	}
	return row
}

func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// paramMapper renders template params for a row.
type paramMapper struct {
	names     []string
	templates map[string]*liquid.Template
}

func newParamMapper(mapping map[string]string) (*paramMapper, error) {
	m := &paramMapper{templates: make(map[string]*liquid.Template, len(mapping))}
	if len(mapping) == 0 {
		return m, nil
	}

	engine := liquid.NewEngine()
	for name, expr := range mapping {
		tpl, err := engine.ParseString(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMapping, name, err)
		}
		m.templates[name] = tpl
		m.names = append(m.names, name)
	}
	sort.Strings(m.names)
	return m, nil
}

func (m *paramMapper) params(row map[string]string, phoneColumn string) (map[string]string, error) {
	if len(m.templates) == 0 {
		params := make(map[string]string, len(row))
		for k, v := range row {
			if k == phoneColumn || k == trackingColumn {
				continue
			}
			params[k] = v
		}
		return params, nil
	}

	bindings := make(liquid.Bindings, len(row))
	for k, v := range row {
		bindings[k] = v
	}

	params := make(map[string]string, len(m.names))
	for _, name := range m.names {
		out, err := m.templates[name].RenderString(bindings)
		if err != nil {
			return nil, fmt.Errorf("rendering param %q: %v", name, err)
		}
		params[name] = strings.TrimSpace(out)
	}
	return params, nil
}
