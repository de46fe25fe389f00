// Package netlist reads KiCad XML netlists into the shared BOM row shape.
package netlist

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/fabworks/kicad-lcsc/core/errors"
	"github.com/fabworks/kicad-lcsc/internal/bom"
)

// Header is the synthetic column layout used for rows read from a netlist.
var Header = []string{"Designator", "Value", "LCSC", "MPN", "Manufacturer"}

var (
	exportQuery = xpath.MustCompile("/export")
	compQuery   = xpath.MustCompile("components/comp")
	valueQuery  = xpath.MustCompile("value")
	fieldQuery  = xpath.MustCompile("fields/field")
)

// Detect reports whether the file looks like a KiCad XML netlist rather than
// a CSV BOM. The extension decides when it is unambiguous; otherwise the
// content is sniffed for an export document.
func Detect(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml", ".net":
		return true
	case ".csv":
		return false
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	head = bytes.TrimSpace(head)
	return bytes.HasPrefix(head, []byte("<?xml")) || bytes.HasPrefix(head, []byte("<export"))
}

// Parse reads a KiCad XML netlist and converts its component list into the
// row shape shared with CSV BOMs. Component fields are matched by the same
// column aliases the CSV reader accepts.
func Parse(r io.Reader) (*bom.Table, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, errors.NewParse("netlist", "", err.Error())
	}

	root := xmlquery.QuerySelector(doc, exportQuery)
	if root == nil {
		return nil, errors.NewParse("netlist", "", "missing export element")
	}

	t := &bom.Table{Header: Header}
	for _, comp := range xmlquery.QuerySelectorAll(root, compQuery) {
		row := bom.Row{Designator: comp.SelectAttr("ref")}

		if v := xmlquery.QuerySelector(comp, valueQuery); v != nil {
			row.Value = bom.Clean(v.InnerText())
		}

		for _, f := range xmlquery.QuerySelectorAll(comp, fieldQuery) {
			name := f.SelectAttr("name")
			value := bom.Clean(f.InnerText())
			switch {
			case bom.IsCodeField(name):
				row.Code = value
			case bom.IsMPNField(name):
				row.MPN = value
			case bom.IsManufacturerField(name):
				row.Manufacturer = value
			}
		}

		t.Rows = append(t.Rows, row)
		t.Records = append(t.Records, []string{
			row.Designator, row.Value, row.Code, row.MPN, row.Manufacturer,
		})
	}
	return t, nil
}
