// Package convert renders pipeline outputs as PDF documents and safe HTML.
package convert

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	bodyFont     = "Arial"
	codeFont     = "Courier"
	bodySize     = 11.0
	codeSize     = 9.5
	lineHeight   = 6.0
	listIndent   = 6.0
	pageMargin   = 15.0
	maxListDepth = 6
)

var headingSizes = map[int]float64{1: 20, 2: 16, 3: 14, 4: 12, 5: 11, 6: 11}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

var htmlPolicy = bluemonday.UGCPolicy()

// MarkdownToHTML renders markdown as sanitised HTML suitable for embedding in a page.
func MarkdownToHTML(src []byte) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return string(htmlPolicy.SanitizeBytes(buf.Bytes())), nil
}

// MarkdownToPDF converts the markdown file src into the PDF file dst.
func MarkdownToPDF(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	return writeFile(dst, func(w io.Writer) error { return RenderMarkdownPDF(w, data) })
}

// RenderMarkdownPDF writes src rendered as an A4 PDF to w.
func RenderMarkdownPDF(w io.Writer, src []byte) error {
	doc := md.Parser().Parse(text.NewReader(src))

	r := newMarkdownRenderer(src)
	if err := ast.Walk(doc, r.visit); err != nil {
		return err
	}
	return r.pdf.Output(w)
}

type listState struct {
	ordered bool
	next    int
}

type markdownRenderer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
	src []byte

	bold, italic int
	code         bool
	size         float64
	link         string
	lists        []listState
	baseMargin   float64
}

func newMarkdownRenderer(src []byte) *markdownRenderer {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.AddPage()
	pdf.SetFont(bodyFont, "", bodySize)

	return &markdownRenderer{
		pdf:        pdf,
		tr:         pdf.UnicodeTranslatorFromDescriptor(""),
		src:        src,
		size:       bodySize,
		baseMargin: pageMargin,
	}
}

func (r *markdownRenderer) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			r.blockGap(3)
			r.size = headingSizes[node.Level]
			r.bold++
		} else {
			r.bold--
			r.size = bodySize
			r.pdf.Ln(lineHeight + 1)
		}
		r.applyFont()
	case *ast.Paragraph:
		if !entering {
			r.pdf.Ln(lineHeight)
			if !r.inList() {
				r.pdf.Ln(2)
			}
		}
	case *ast.TextBlock:
		if !entering {
			r.pdf.Ln(lineHeight)
		}
	case *ast.Text:
		if entering {
			r.write(string(node.Segment.Value(r.src)))
			switch {
			case node.HardLineBreak():
				r.pdf.Ln(lineHeight)
			case node.SoftLineBreak():
				r.write(" ")
			}
		}
	case *ast.String:
		if entering {
			r.write(string(node.Value))
		}
	case *ast.Emphasis:
		delta := 1
		if !entering {
			delta = -1
		}
		if node.Level >= 2 {
			r.bold += delta
		} else {
			r.italic += delta
		}
		r.applyFont()
	case *ast.CodeSpan:
		r.code = entering
		r.applyFont()
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			r.codeBlock(n)
		}
		return ast.WalkSkipChildren, nil
	case *ast.Link:
		if entering {
			r.link = string(node.Destination)
		} else {
			r.link = ""
		}
	case *ast.AutoLink:
		if entering {
			url := string(node.URL(r.src))
			r.link = url
			r.write(url)
			r.link = ""
		}
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			r.blockGap(0)
			r.lists = append(r.lists, listState{ordered: node.IsOrdered(), next: node.Start})
		} else {
			r.lists = r.lists[:len(r.lists)-1]
			if !r.inList() {
				r.pdf.Ln(2)
			}
		}
	case *ast.ListItem:
		if entering {
			r.listItem()
		} else {
			r.pdf.SetLeftMargin(r.baseMargin + listIndent*float64(min(len(r.lists)-1, maxListDepth)))
		}
	case *ast.Blockquote:
		if entering {
			r.italic++
		} else {
			r.italic--
		}
		r.applyFont()
	case *ast.ThematicBreak:
		if entering {
			r.blockGap(2)
			width, _ := r.pdf.GetPageSize()
			y := r.pdf.GetY()
			r.pdf.Line(pageMargin, y, width-pageMargin, y)
			r.pdf.Ln(4)
		}
	case *ast.HTMLBlock, *ast.RawHTML:
		return ast.WalkSkipChildren, nil
	case *east.TableHeader:
		if entering {
			r.bold++
		} else {
			r.bold--
			r.pdf.Ln(lineHeight)
		}
		r.applyFont()
	case *east.TableRow:
		if !entering {
			r.pdf.Ln(lineHeight)
		}
	case *east.TableCell:
		if !entering && n.NextSibling() != nil {
			r.write(" | ")
		}
	case *east.Table:
		if !entering {
			r.pdf.Ln(2)
		}
	}

	return ast.WalkContinue, r.pdf.Error()
}

func (r *markdownRenderer) listItem() {
	depth := len(r.lists)
	if depth == 0 {
		return
	}
	margin := r.baseMargin + listIndent*float64(min(depth, maxListDepth))

	state := &r.lists[depth-1]
	marker := "•"
	if state.ordered {
		marker = strconv.Itoa(state.next) + "."
		state.next++
	}

	r.pdf.SetLeftMargin(margin - listIndent)
	r.pdf.SetX(margin - listIndent)
	r.write(marker + " ")
	r.pdf.SetLeftMargin(margin)
}

func (r *markdownRenderer) codeBlock(n ast.Node) {
	r.blockGap(1)
	r.pdf.SetFont(codeFont, "", codeSize)
	left, _, right, _ := r.pdf.GetMargins()
	width, _ := r.pdf.GetPageSize()

	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		content := strings.TrimRight(string(line.Value(r.src)), "\n")
		r.pdf.MultiCell(width-left-right, lineHeight-1, r.tr(content), "", "L", false)
	}
	r.pdf.Ln(2)
	r.applyFont()
}

func (r *markdownRenderer) write(s string) {
	if s == "" {
		return
	}
	h := r.lineHeight()
	if r.link != "" {
		r.pdf.SetTextColor(30, 80, 200)
		r.pdf.WriteLinkString(h, r.tr(s), r.link)
		r.pdf.SetTextColor(0, 0, 0)
		return
	}
	r.pdf.Write(h, r.tr(s))
}

func (r *markdownRenderer) applyFont() {
	if r.code {
		r.pdf.SetFont(codeFont, "", codeSize)
		return
	}
	style := ""
	if r.bold > 0 {
		style += "B"
	}
	if r.italic > 0 {
		style += "I"
	}
	r.pdf.SetFont(bodyFont, style, r.size)
}

func (r *markdownRenderer) lineHeight() float64 {
	if r.size > bodySize {
		return r.size * 0.5
	}
	return lineHeight
}

// blockGap moves to a fresh line before a block element, adding extra
// spacing unless the cursor is already at the top of the page.
func (r *markdownRenderer) blockGap(extra float64) {
	left, top, _, _ := r.pdf.GetMargins()
	if r.pdf.GetX() > left+0.1 {
		r.pdf.Ln(lineHeight)
	}
	if extra > 0 && r.pdf.GetY() > top+0.1 {
		r.pdf.Ln(extra)
	}
}

func (r *markdownRenderer) inList() bool {
	return len(r.lists) > 0
}

func writeFile(dst string, render func(io.Writer) error) error {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if err := render(f); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}
