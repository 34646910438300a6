package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	pdfFont       = "Arial"
	pdfFontSize   = 9.0
	pdfMargin     = 10.0
	pdfPageWidth  = 190.0
	pdfPageHeight = 297.0
)

// RenderPDF renders the markdown report into an A4 document. Relative image
// links are resolved against dir. generatedAt is stamped as the document date
// so repeated renders of the same report are byte-stable.
func RenderPDF(markdown, title, dir string, generatedAt time.Time, logger arbor.ILogger) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(generatedAt)
	pdf.SetModificationDate(generatedAt)
	pdf.SetTitle(title, true)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.AddPage()
	pdf.SetFont(pdfFont, "", pdfFontSize)

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	r := &pdfRenderer{
		pdf:    pdf,
		source: source,
		dir:    dir,
		logger: logger,
		size:   pdfFontSize,
	}
	if err := ast.Walk(doc, r.walk); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf output: %w", err)
	}

	logger.Debug().Int("pdf_size", buf.Len()).Msg("PDF report rendered")
	return buf.Bytes(), nil
}

type pdfRenderer struct {
	pdf       *fpdf.Fpdf
	source    []byte
	dir       string
	logger    arbor.ILogger
	size      float64
	bold      bool
	italic    bool
	listLevel int
}

func (r *pdfRenderer) updateFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont(pdfFont, style, r.size)
}

func (r *pdfRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		r.heading(node, entering)
	case *ast.Paragraph:
		if !entering {
			r.pdf.Ln(6)
		}
	case *ast.Text:
		if entering {
			r.pdf.Write(5, latin1(string(node.Segment.Value(r.source))))
			if node.SoftLineBreak() || node.HardLineBreak() {
				r.pdf.Ln(5)
			}
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.updateFont()
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont("Courier", "", r.size)
			r.pdf.Write(5, latin1(string(node.Text(r.source))))
			r.updateFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			r.listLevel++
		} else {
			r.listLevel--
			if r.listLevel == 0 {
				r.pdf.Ln(2)
			}
		}
	case *ast.ListItem:
		if entering {
			r.pdf.Ln(5)
			r.pdf.SetX(pdfMargin + float64(r.listLevel)*5)
			r.pdf.Write(5, "- ")
		}
	case *ast.TextBlock:
		// list item bodies; the item already positioned the cursor
	case *ast.Image:
		if entering {
			r.image(string(node.Destination))
		}
		return ast.WalkSkipChildren, nil
	case *extast.Table:
		if entering {
			r.table(node)
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (r *pdfRenderer) heading(n *ast.Heading, entering bool) {
	if !entering {
		r.pdf.Ln(7)
		r.updateFont()
		return
	}
	r.pdf.Ln(4)
	size := 10.0
	switch n.Level {
	case 1:
		size = 15
	case 2:
		size = 12
	case 3:
		size = 10.5
	}
	r.pdf.SetFont(pdfFont, "B", size)
}

// image embeds a PNG scaled to the printable width. Missing files are noted
// in the document instead of failing the render.
func (r *pdfRenderer) image(dest string) {
	path := dest
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.dir, filepath.FromSlash(dest))
	}
	if _, err := os.Stat(path); err != nil {
		r.logger.Debug().Str("path", path).Msg("PDF image missing")
		r.pdf.Write(5, fmt.Sprintf("[image not available: %s]", dest))
		r.pdf.Ln(5)
		return
	}

	opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	info := r.pdf.RegisterImageOptions(path, opts)
	if info == nil || r.pdf.Err() {
		r.logger.Warn().Str("path", path).Err(r.pdf.Error()).Msg("PDF image could not be embedded")
		r.pdf.ClearError()
		r.pdf.Write(5, fmt.Sprintf("[image not available: %s]", dest))
		r.pdf.Ln(5)
		return
	}

	w := pdfPageWidth
	h := w * info.Height() / info.Width()
	maxHeight := pdfPageHeight - 2*pdfMargin - 10
	if h > maxHeight {
		w = w * maxHeight / h
		h = maxHeight
	}
	if r.pdf.GetY()+h > pdfPageHeight-pdfMargin {
		r.pdf.AddPage()
	}
	r.pdf.Ln(2)
	r.pdf.ImageOptions(path, pdfMargin, r.pdf.GetY(), w, h, true, opts, 0, "")
	r.pdf.Ln(3)
}

func (r *pdfRenderer) table(n *extast.Table) {
	var rows [][]string
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch row := child.(type) {
		case *extast.TableHeader:
			rows = append(rows, r.cells(row))
		case *extast.TableRow:
			rows = append(rows, r.cells(row))
		}
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	const (
		fontSize   = 8.0
		lineHeight = 4.0
	)
	numCols := len(rows[0])
	widths := r.columnWidths(rows, numCols, fontSize)

	r.pdf.Ln(2)
	for i, row := range rows {
		style := ""
		if i == 0 {
			style = "B"
		}
		r.pdf.SetFont(pdfFont, style, fontSize)

		lines := 1
		for j, cell := range row {
			if j < numCols {
				lines = max(lines, len(r.pdf.SplitText(cell, widths[j]-2)))
			}
		}
		lines = min(lines, 6)
		height := float64(lines)*lineHeight + 2

		if r.pdf.GetY()+height > pdfPageHeight-pdfMargin {
			r.pdf.AddPage()
		}
		y := r.pdf.GetY()
		x := pdfMargin
		for j := 0; j < numCols; j++ {
			cell := ""
			if j < len(row) {
				cell = row[j]
			}
			if i == 0 {
				r.pdf.SetFillColor(230, 230, 230)
				r.pdf.Rect(x, y, widths[j], height, "FD")
			} else {
				r.pdf.Rect(x, y, widths[j], height, "D")
			}
			parts := r.pdf.SplitText(cell, widths[j]-2)
			for k := 0; k < len(parts) && k < lines; k++ {
				r.pdf.SetXY(x+1, y+1+float64(k)*lineHeight)
				r.pdf.CellFormat(widths[j]-2, lineHeight, parts[k], "", 0, "L", false, 0, "")
			}
			x += widths[j]
		}
		r.pdf.SetXY(pdfMargin, y+height)
	}
	r.pdf.SetFillColor(255, 255, 255)
	r.pdf.Ln(3)
	r.updateFont()
}

func (r *pdfRenderer) cells(row ast.Node) []string {
	var out []string
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		if _, ok := c.(*extast.TableCell); ok {
			out = append(out, latin1(strings.TrimSpace(string(c.Text(r.source)))))
		}
	}
	return out
}

// columnWidths sizes columns to their widest cell, then scales to the page
func (r *pdfRenderer) columnWidths(rows [][]string, numCols int, fontSize float64) []float64 {
	widths := make([]float64, numCols)
	for i, row := range rows {
		style := ""
		if i == 0 {
			style = "B"
		}
		r.pdf.SetFont(pdfFont, style, fontSize)
		for j, cell := range row {
			if j < numCols {
				widths[j] = max(widths[j], r.pdf.GetStringWidth(cell)+4)
			}
		}
	}

	const minWidth = 12.0
	maxWidth := pdfPageWidth / 2
	total := 0.0
	for j := range widths {
		widths[j] = min(max(widths[j], minWidth), maxWidth)
		total += widths[j]
	}
	if total > pdfPageWidth {
		scale := pdfPageWidth / total
		for j := range widths {
			widths[j] *= scale
		}
	}
	return widths
}

// latin1 replaces runes the core PDF fonts cannot encode
func latin1(s string) string {
	return strings.Map(func(c rune) rune {
		if c > 255 {
			return '?'
		}
		return c
	}, s)
}
