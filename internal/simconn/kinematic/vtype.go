package kinematic

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultVType is the type assigned on insertion
const DefaultVType = "DEFAULT_VEHTYPE"

// VType is a parsed vehicle type declaration
type VType struct {
	ID     string
	Model  string
	Params map[string]float64
}

// Param returns the named parameter or def when unset
func (v VType) Param(name string, def float64) float64 {
	if p, ok := v.Params[name]; ok {
		return p
	}
	return def
}

type additionalFile struct {
	XMLName xml.Name   `xml:"additional"`
	VTypes  []vTypeXML `xml:"vType"`
}

type vTypeXML struct {
	ID    string     `xml:"id,attr"`
	Model string     `xml:"carFollowModel,attr"`
	Attrs []xml.Attr `xml:",any,attr"`
}

// ReadVTypes parses every vType of an additional file. Non-numeric
// attributes are ignored.
func ReadVTypes(r io.Reader) (map[string]VType, error) {
	var doc additionalFile
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse additional file: %w", err)
	}
	out := make(map[string]VType, len(doc.VTypes))
	for _, vt := range doc.VTypes {
		if vt.ID == "" {
			return nil, fmt.Errorf("vType without id")
		}
		model := vt.Model
		if model == "" {
			model = "Krauss"
		}
		if _, ok := lookupLaw(model); !ok {
			return nil, fmt.Errorf("vType %s: unsupported car-following model %q", vt.ID, model)
		}
		params := make(map[string]float64, len(vt.Attrs))
		for _, a := range vt.Attrs {
			v, err := strconv.ParseFloat(strings.TrimSpace(a.Value), 64)
			if err != nil {
				continue
			}
			params[a.Name.Local] = v
		}
		out[vt.ID] = VType{ID: vt.ID, Model: model, Params: params}
	}
	return out, nil
}

func readVTypeFile(path string) (map[string]VType, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	types, err := ReadVTypes(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return types, nil
}
