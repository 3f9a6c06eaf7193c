package parser

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func writeZip(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	zw := zip.NewWriter(f)
	for n, body := range files {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatalf("zip entry %s: %v", n, err)
		}
		w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	f.Close()
	return path
}

func TestParseText(t *testing.T) {
	path := writeFile(t, "handbook.txt", "Leave policy\n\nEmployees get 20 days.")
	docs, err := ParseFile(path, "acme")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 page, got %d", len(docs))
	}
	d := docs[0]
	if d.Text != "Leave policy\n\nEmployees get 20 days." {
		t.Errorf("unexpected text %q", d.Text)
	}
	if d.Metadata.Source != "handbook.txt" || d.Metadata.Page != 1 || d.Metadata.CompanyID != "acme" {
		t.Errorf("unexpected metadata %+v", d.Metadata)
	}
}

func TestParseBlankText(t *testing.T) {
	path := writeFile(t, "blank.txt", " \n\t\n")
	docs, err := ParseFile(path, "acme")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected no pages, got %d", len(docs))
	}
}

func TestParseMarkdown(t *testing.T) {
	src := "# Travel\n\nBook flights **two weeks** ahead.\n\n- Economy only\n- Receipts required\n\n| Grade | Limit |\n|---|---|\n| A | 100 |\n"
	path := writeFile(t, "travel.md", src)

	docs, err := ParseFile(path, "acme")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 page, got %d", len(docs))
	}
	got := docs[0].Text
	for _, want := range []string{"Travel\n\n", "Book flights two weeks ahead.", "Economy only", "Receipts required", "Grade\tLimit", "A\t100"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	if strings.ContainsAny(got, "#*|") {
		t.Errorf("markdown syntax left in %q", got)
	}
}

func TestParseDOCX(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Expense policy</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Claims are paid </w:t></w:r><w:r><w:t>monthly.</w:t></w:r></w:p>
</w:body></w:document>`
	rels := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`
	path := writeZip(t, "expenses.docx", map[string]string{
		"word/document.xml":            doc,
		"word/_rels/document.xml.rels": rels,
	})

	docs, err := ParseFile(path, "acme")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 page, got %d", len(docs))
	}
	if docs[0].Text != "Expense policy\nClaims are paid monthly." {
		t.Errorf("unexpected text %q", docs[0].Text)
	}
}

func TestParsePPTX(t *testing.T) {
	slide := func(body string) string {
		return `<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + body + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	path := writeZip(t, "deck.pptx", map[string]string{
		"ppt/slides/slide2.xml":            slide("Second slide"),
		"ppt/slides/slide1.xml":            slide("First slide"),
		"ppt/slides/slide3.xml":            slide(""),
		"ppt/slides/_rels/slide1.xml.rels": "<Relationships/>",
	})

	docs, err := ParseFile(path, "acme")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 slides, got %d", len(docs))
	}
	if docs[0].Text != "First slide" || docs[0].Metadata.Page != 1 {
		t.Errorf("unexpected first slide %+v", docs[0])
	}
	if docs[1].Text != "Second slide" || docs[1].Metadata.Page != 2 {
		t.Errorf("unexpected second slide %+v", docs[1])
	}
}

func writeWorkbook(t *testing.T, name string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Region")
	f.SetCellValue("Sheet1", "B1", "Budget")
	f.SetCellValue("Sheet1", "A2", "North")
	f.SetCellValue("Sheet1", "B2", 1200)
	if _, err := f.NewSheet("Empty"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func TestParseWorkbook(t *testing.T) {
	for _, name := range []string{"budget.xlsx", "budget.xlsm"} {
		t.Run(name, func(t *testing.T) {
			docs, err := ParseFile(writeWorkbook(t, name), "acme")
			if err != nil {
				t.Fatalf("ParseFile: %v", err)
			}
			if len(docs) != 1 {
				t.Fatalf("expected 1 sheet, got %d", len(docs))
			}
			d := docs[0]
			if d.Text != "Sheet: Sheet1\nRegion\tBudget\nNorth\t1200\n" {
				t.Errorf("unexpected text %q", d.Text)
			}
			if d.Metadata.Page != 1 || d.Metadata.Extra[sheetKey] != "Sheet1" {
				t.Errorf("unexpected metadata %+v", d.Metadata)
			}
		})
	}
}

func TestParseUnsupported(t *testing.T) {
	path := writeFile(t, "image.png", "not text")
	if _, err := ParseFile(path, "acme"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if Supported(path) {
		t.Errorf("png reported as supported")
	}
	if !Supported("REPORT.PDF") {
		t.Errorf("pdf reported as unsupported")
	}
}

func TestParseMissingFile(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.txt"), "acme"); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestXMLText(t *testing.T) {
	if _, err := xmlText("<w:p><w:t>unclosed"); err == nil {
		t.Errorf("expected an error for malformed xml")
	}
	got, err := xmlText(`<doc><w:p><w:t>a</w:t><w:instrText>skip</w:instrText></w:p><w:p><w:t>b</w:t></w:p></doc>`)
	if err != nil {
		t.Fatalf("xmlText: %v", err)
	}
	if got != "a\nb" {
		t.Errorf("got %q", got)
	}
}
