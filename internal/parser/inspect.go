package parser

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Inspector validates uploads and reads their page count. Only PDFs have
// pages; other types report 0.
type Inspector struct {
	conf *model.Configuration
}

// NewInspector returns an Inspector using relaxed PDF validation.
func NewInspector() *Inspector {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Inspector{conf: conf}
}

func (i *Inspector) PageCount(fileType string, data []byte) (int, error) {
	if fileType != "pdf" {
		return 0, nil
	}
	n, err := api.PageCount(bytes.NewReader(data), i.conf)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF page count: %w", err)
	}
	return n, nil
}
