package paramspace

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
)

// WriteVType writes an additional file declaring the follower's vType
func WriteVType(w io.Writer, model string, v Values) error {
	attrs := []xml.Attr{
		{Name: xml.Name{Local: "id"}, Value: VehType(model)},
		{Name: xml.Name{Local: "carFollowModel"}, Value: model},
	}
	for _, name := range v.Names() {
		attrs = append(attrs, xml.Attr{
			Name:  xml.Name{Local: name},
			Value: strconv.FormatFloat(v[name], 'f', -1, 64),
		})
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "    ")
	root := xml.StartElement{Name: xml.Name{Local: "additional"}}
	vtype := xml.StartElement{Name: xml.Name{Local: "vType"}, Attr: attrs}
	for _, tok := range []xml.Token{root, vtype, vtype.End(), root.End()} {
		if err := enc.EncodeToken(tok); err != nil {
			return fmt.Errorf("failed to encode vType: %w", err)
		}
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteVTypeFile writes the vType declaration to path
func WriteVTypeFile(path, model string, v Values) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create vType file: %w", err)
	}
	if err := WriteVType(f, model, v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
