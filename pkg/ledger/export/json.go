package export

import (
	"context"
	"encoding/json"
	"io"
)

// JSONExporter exports a bundle as one JSON object.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export writes the bundle to w.
func (e *JSONExporter) Export(ctx context.Context, bundle *Bundle, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(bundle, "", "  ")
	} else {
		data, err = json.Marshal(bundle)
	}
	if err != nil {
		return newExportError("json", bundle.size(), err)
	}

	if _, err := w.Write(append(data, '\n')); err != nil {
		return newExportError("json", bundle.size(), err)
	}
	return nil
}
