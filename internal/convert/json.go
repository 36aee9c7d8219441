package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-pdf/fpdf"
)

// JSONToPDF converts the JSON file src into a PDF listing of the
// pretty-printed document at dst.
func JSONToPDF(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	return writeFile(dst, func(w io.Writer) error { return RenderJSONPDF(w, data) })
}

// RenderJSONPDF pretty-prints data with four-space indentation and writes it
// to w as a PDF, one line per cell. Key order is preserved.
func RenderJSONPDF(w io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(data), "", "    "); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	pdf.SetFont(bodyFont, "", 12)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for _, line := range strings.Split(buf.String(), "\n") {
		pdf.MultiCell(100, 10, tr(line), "", "L", false)
	}

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}
