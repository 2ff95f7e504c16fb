package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/cockroachdb/errors"
	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/gjson"
	"github.com/xuri/excelize/v2"
)

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	defaultSampleSize = 5
)

// TemplateBuilder requests field templates from the backend and makes sure
// the artifact matches the requested encoding.
type TemplateBuilder struct {
	backend Backend
	schemas *SchemaIntrospector
}

// NewTemplateBuilder creates a template builder. schemas supplies the field
// metadata that decides which fields are mandatory.
func NewTemplateBuilder(backend Backend, schemas *SchemaIntrospector) *TemplateBuilder {
	return &TemplateBuilder{backend: backend, schemas: schemas}
}

// Build returns a template for req.Schema covering req.Fields.
//
// The artifact is named <Schema>_Template.csv or .xlsx. When the backend
// answers a spreadsheet request with CSV text (or the reverse) the payload
// is converted locally.
func (tb *TemplateBuilder) Build(ctx context.Context, req TemplateRequest) (Artifact, error) {
	if req.FileType == "" {
		req.FileType = FileTypeCSV
	}
	if req.Scope == "" {
		req.Scope = ScopeBlank
	}
	if err := validateRequest(req); err != nil {
		return Artifact{}, err
	}

	fields, err := tb.resolveFields(ctx, req)
	if err != nil {
		return Artifact{}, err
	}

	exportFields, err := json.Marshal(map[string][]string{req.Schema: fields})
	if err != nil {
		return Artifact{}, errors.Wrap(err, "encode export fields")
	}

	art, err := tb.backend.Download(ctx, gateway.MethodTemplate, map[string]any{
		"doctype":        req.Schema,
		"export_fields":  string(exportFields),
		"export_records": exportRecords(req.Scope, req.SampleSize),
		"file_type":      string(req.FileType),
		"export_filters": "{}",
	})
	if err != nil {
		return Artifact{}, classify(err, "download template")
	}

	body := unwrapTextPayload(art)
	if len(body) == 0 {
		return Artifact{}, errors.Mark(errors.New("template download was empty"), ErrMalformedPayload)
	}

	isXLSX := mimetype.Detect(body).Is(contentTypeXLSX)
	switch {
	case req.FileType == FileTypeExcel && !isXLSX:
		body, err = csvToXLSX(body, req.Schema)
	case req.FileType == FileTypeCSV && isXLSX:
		body, err = xlsxToCSV(body)
	}
	if err != nil {
		return Artifact{}, err
	}

	out := Artifact{Name: templateName(req.Schema, req.FileType), Body: body}
	if req.FileType == FileTypeExcel {
		out.ContentType = contentTypeXLSX
	} else {
		out.ContentType = contentTypeCSV
	}

	slog.Info("template built",
		"schema", req.Schema,
		"fields", len(fields),
		"file_type", req.FileType,
		"scope", req.Scope,
		"bytes", len(body),
	)
	return out, nil
}

// resolveFields applies the requested fields to a selection that starts
// with only the mandatory fields, so those can never be left out. Names the
// schema does not have are rejected.
func (tb *TemplateBuilder) resolveFields(ctx context.Context, req TemplateRequest) ([]string, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeInsertNew
	}
	meta, err := tb.schemas.Fields(ctx, req.Schema, mode)
	if err != nil {
		return nil, err
	}

	sel := NewFieldSelection(meta)
	if req.AllFields {
		sel.SelectAll()
		return sel.Selected(), nil
	}

	sel.UnselectAll()
	for _, name := range req.Fields {
		if _, ok := sel.field(name); !ok {
			return nil, errors.Mark(errors.Newf("unknown field %q for %s", name, req.Schema), ErrValidation)
		}
		if !sel.IsSelected(name) {
			sel.Toggle(name)
		}
	}
	return sel.Selected(), nil
}

func exportRecords(scope RecordScope, sampleSize int) string {
	switch scope {
	case ScopeAll:
		return "all"
	case ScopeSample:
		if sampleSize <= 0 {
			sampleSize = defaultSampleSize
		}
		return fmt.Sprintf("%d_records", sampleSize)
	}
	return "blank_template"
}

func templateName(schema string, ft FileType) string {
	ext := "csv"
	if ft == FileTypeExcel {
		ext = "xlsx"
	}
	return fmt.Sprintf("%s_Template.%s", schema, ext)
}

// unwrapTextPayload handles backends that return the template text inside
// a JSON envelope instead of as a file response.
func unwrapTextPayload(art gateway.Artifact) []byte {
	if !strings.Contains(art.ContentType, "json") || !gjson.ValidBytes(art.Body) {
		return art.Body
	}
	payload, err := gateway.Unwrap(art.Body)
	if err != nil {
		return art.Body
	}
	if res := gjson.ParseBytes(payload); res.Type == gjson.String {
		return []byte(res.Str)
	}
	return art.Body
}

// csvToXLSX re-encodes CSV text as a single-sheet workbook.
func csvToXLSX(data []byte, sheetName string) ([]byte, error) {
	records, err := parseCSV(data)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := workbookSheetName(sheetName)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, errors.Wrap(err, "name sheet")
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, errors.Wrap(err, "open sheet writer")
	}
	for i, record := range records {
		cells := make([]any, len(record))
		for j, v := range record {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, errors.Wrap(err, "cell name")
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return nil, errors.Wrapf(err, "write row %d", i+1)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, errors.Wrap(err, "flush sheet")
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "encode workbook")
	}
	return buf.Bytes(), nil
}

// xlsxToCSV flattens the first sheet of a workbook to CSV text.
func xlsxToCSV(data []byte) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "open workbook"), ErrMalformedPayload)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.Mark(errors.New("no sheets in workbook"), ErrMalformedPayload)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read sheet"), ErrMalformedPayload)
	}
	return writeCSV(rows)
}

// workbookSheetName trims name to the 31 characters a sheet name allows
// and drops characters the format rejects.
func workbookSheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" {
		return "Template"
	}
	if runes := []rune(name); len(runes) > 31 {
		name = string(runes[:31])
	}
	return name
}
