package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/setanarut/unblending"
)

// Format identifies a layer-infos encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("utils: unsupported layer infos extension %q", filepath.Ext(path))
}

// layerInfoRecord is the on-disk shape of one layer. JSON files are a
// top-level array of records; TOML and YAML files hold them under "layers".
type layerInfoRecord struct {
	Mode       string           `json:"mode" toml:"mode" yaml:"mode"`
	CompOp     string           `json:"comp-op,omitempty" toml:"comp-op,omitempty" yaml:"comp-op,omitempty"`
	ColorModel colorModelRecord `json:"color-model" toml:"color-model" yaml:"color-model"`
}

type colorModelRecord struct {
	Type        string    `json:"type" toml:"type" yaml:"type"`
	Colors      []string  `json:"colors,omitempty" toml:"colors,omitempty" yaml:"colors,omitempty"`
	Weights     []float64 `json:"weights,omitempty" toml:"weights,omitempty" yaml:"weights,omitempty"`
	Edges       [][]int   `json:"edges,omitempty" toml:"edges,omitempty" yaml:"edges,omitempty"`
	Mean        string    `json:"mean,omitempty" toml:"mean,omitempty" yaml:"mean,omitempty"`
	Covariance  []float64 `json:"covariance,omitempty" toml:"covariance,omitempty" yaml:"covariance,omitempty"`
	MaxDistance float64   `json:"max-distance,omitempty" toml:"max-distance,omitempty" yaml:"max-distance,omitempty"`
}

type layerInfosDocument struct {
	Layers []layerInfoRecord `toml:"layers" yaml:"layers"`
}

// ImportLayerInfos reads and validates a layer stack from a .json, .toml or
// .yaml file.
func ImportLayerInfos(path string) (unblending.LayerStack, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	stack, err := DecodeLayerInfos(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return stack, nil
}

func DecodeLayerInfos(data []byte, format Format) (unblending.LayerStack, error) {
	var records []layerInfoRecord
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&records); err != nil {
			return nil, err
		}
	case FormatTOML:
		var doc layerInfosDocument
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		records = doc.Layers
	case FormatYAML:
		var doc layerInfosDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		records = doc.Layers
	default:
		return nil, fmt.Errorf("utils: unknown format %q", format)
	}

	stack := make(unblending.LayerStack, len(records))
	for i, r := range records {
		info, err := r.layerInfo()
		if err != nil {
			return nil, &unblending.ConfigError{Layer: i, Err: err}
		}
		stack[i] = info
	}
	if err := stack.Validate(); err != nil {
		return nil, err
	}
	return stack, nil
}

// EncodeLayerInfos is the inverse of DecodeLayerInfos.
func EncodeLayerInfos(stack unblending.LayerStack, format Format) ([]byte, error) {
	records := make([]layerInfoRecord, len(stack))
	for i, info := range stack {
		records[i] = newLayerInfoRecord(info)
	}
	switch format {
	case FormatJSON:
		return json.MarshalIndent(records, "", "    ")
	case FormatTOML:
		return toml.Marshal(layerInfosDocument{Layers: records})
	case FormatYAML:
		return yaml.Marshal(layerInfosDocument{Layers: records})
	}
	return nil, fmt.Errorf("utils: unknown format %q", format)
}

// ExportLayerInfos writes the stack as layer_infos.json into dir.
func ExportLayerInfos(stack unblending.LayerStack, dir string) error {
	data, err := EncodeLayerInfos(stack, FormatJSON)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "layer_infos.json"), data, 0o644)
}

func (r layerInfoRecord) layerInfo() (unblending.LayerInfo, error) {
	var info unblending.LayerInfo
	mode, err := unblending.ParseBlendMode(r.Mode)
	if err != nil {
		return info, err
	}
	op := unblending.SourceOver
	if r.CompOp != "" {
		if op, err = unblending.ParseCompOp(r.CompOp); err != nil {
			return info, err
		}
	}
	model, err := r.ColorModel.colorModel()
	if err != nil {
		return info, err
	}
	return unblending.LayerInfo{Mode: mode, CompOp: op, Model: model}, nil
}

func (r colorModelRecord) colorModel() (unblending.ColorModel, error) {
	kind, err := unblending.ParseModelKind(r.Type)
	if err != nil {
		return unblending.ColorModel{}, err
	}
	colors := make([]colorful.Color, len(r.Colors))
	for i, s := range r.Colors {
		if colors[i], err = parseHex(s); err != nil {
			return unblending.ColorModel{}, err
		}
	}
	m := unblending.ColorModel{
		Kind:        kind,
		Colors:      colors,
		Weights:     r.Weights,
		Covariance:  r.Covariance,
		MaxDistance: r.MaxDistance,
	}
	if kind == unblending.GaussianColor {
		if m.Mean, err = parseHex(r.Mean); err != nil {
			return m, err
		}
	}
	if r.Edges != nil {
		m.Edges = make([][2]int, len(r.Edges))
		for i, e := range r.Edges {
			if len(e) != 2 {
				return m, fmt.Errorf("%w: edge %v needs two indices", unblending.ErrInvalidColorModel, e)
			}
			m.Edges[i] = [2]int{e[0], e[1]}
		}
	}
	return m, nil
}

func newLayerInfoRecord(info unblending.LayerInfo) layerInfoRecord {
	m := info.Model
	rec := colorModelRecord{
		Type:        m.Kind.String(),
		Weights:     m.Weights,
		Covariance:  m.Covariance,
		MaxDistance: m.MaxDistance,
	}
	for _, c := range m.Colors {
		rec.Colors = append(rec.Colors, c.Clamped().Hex())
	}
	for _, e := range m.Edges {
		rec.Edges = append(rec.Edges, []int{e[0], e[1]})
	}
	if m.Kind == unblending.GaussianColor {
		rec.Mean = m.Mean.Clamped().Hex()
	}
	return layerInfoRecord{
		Mode:       info.Mode.String(),
		CompOp:     info.CompOp.String(),
		ColorModel: rec,
	}
}

func parseHex(s string) (colorful.Color, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return c, fmt.Errorf("%w: color %q: %v", unblending.ErrInvalidColorModel, s, err)
	}
	return c, nil
}
