package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"company-rag/internal/models"
)

const (
	defaultPageNumber = 1
	sheetKey          = "sheet"
)

// ErrUnsupportedFormat is returned for file extensions no extractor handles
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Extensions lists every file extension ParseFile understands
var Extensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx", ".xltm", ".md", ".markdown", ".txt"}

// ParseFile extracts the pages of a document. Every page carries the file
// name as source, a 1-based page number and companyID. Pages without text are dropped.
func ParseFile(filePath, companyID string) ([]models.Document, error) {
	p := pageBuilder{source: filepath.Base(filePath), companyID: companyID}

	var err error
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		err = p.parsePDF(filePath)
	case ".docx":
		err = p.parseDOCX(filePath)
	case ".pptx":
		err = p.parsePPTX(filePath)
	case ".xlsx":
		err = p.parseXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		err = p.parseWorkbook(filePath)
	case ".md", ".markdown":
		err = p.parseMarkdown(filePath)
	case ".txt":
		err = p.parseText(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	log.Debug().Str("file", filePath).Int("pages", len(p.docs)).Msg("Parsed document")
	return p.docs, nil
}

// Supported reports whether ParseFile can read filePath
func Supported(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

type pageBuilder struct {
	source    string
	companyID string
	docs      []models.Document
}

func (p *pageBuilder) add(content string, page int, extra map[string]string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	p.docs = append(p.docs, models.Document{
		Text: content,
		Metadata: models.Metadata{
			Source:    p.source,
			Page:      page,
			CompanyID: p.companyID,
			Extra:     extra,
		},
	})
}

func (p *pageBuilder) parsePDF(filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return err
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		p.add(pageText, i, nil)
	}
	return nil
}

// DOCX has no page structure; the whole body is one page with a line per paragraph
func (p *pageBuilder) parseDOCX(filePath string) error {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return err
	}
	defer r.Close()

	content, err := xmlText(r.Editable().GetContent())
	if err != nil {
		return err
	}
	p.add(content, defaultPageNumber, nil)
	return nil
}

func (p *pageBuilder) parsePPTX(filePath string) error {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		name, ok := strings.CutPrefix(file.Name, "ppt/slides/slide")
		if !ok {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(name, ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{num: num, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		content, err := xmlText(string(data))
		if err != nil {
			return fmt.Errorf("slide %d: %w", s.num, err)
		}
		p.add(content, s.num, nil)
	}
	return nil
}

// each sheet becomes one page, a row per line and cells separated by tabs
func (p *pageBuilder) parseXLSX(filePath string) error {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return err
	}

	for sheetNum, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			var cells []string
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		p.add(sheetText(sheet.Name, rows), sheetNum+1, map[string]string{sheetKey: sheet.Name})
	}
	return nil
}

func (p *pageBuilder) parseWorkbook(filePath string) error {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("Skipping unreadable sheet")
			continue
		}
		p.add(sheetText(sheetName, rows), sheetNum+1, map[string]string{sheetKey: sheetName})
	}
	return nil
}

func sheetText(name string, rows [][]string) string {
	var body strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
		if line == "" {
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if body.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("Sheet: %s\n%s", name, body.String())
}

func (p *pageBuilder) parseMarkdown(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	content, err := markdownText(data)
	if err != nil {
		return err
	}
	p.add(content, defaultPageNumber, nil)
	return nil
}

func (p *pageBuilder) parseText(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	p.add(string(data), defaultPageNumber, nil)
	return nil
}

// markdownText renders markdown as plain text, keeping blocks separated by blank lines
func markdownText(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
			return ast.WalkContinue, nil
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
			return ast.WalkContinue, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
			}
		}

		if entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case extast.KindTableCell:
			buf.WriteByte('\t')
		case extast.KindTableRow, extast.KindTableHeader:
			buf.WriteByte('\n')
		case extast.KindTable:
			buf.WriteByte('\n')
		default:
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				buf.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// xmlText pulls the character data of text runs (<w:t>, <a:t>) out of an
// office XML part, ending a line at every paragraph (<w:p>, <a:p>).
func xmlText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
