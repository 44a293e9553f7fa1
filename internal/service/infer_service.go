package service

import (
	"dynamic-table/internal/inference"
	"dynamic-table/internal/model"
)

type InferRequest struct {
	Headers []string   `json:"headers" validate:"required,min=1,dive,required"`
	Rows    [][]string `json:"rows"`
	// PrimaryKey names the key columns, raw or normalized.
	PrimaryKey []string `json:"primaryKey,omitempty"`
}

type InferResponse struct {
	Headers []string       `json:"headers"`
	Fields  model.FieldMap `json:"fields"`
}

// InferService proposes a field map for raw CSV content.
type InferService interface {
	Infer(req *InferRequest) *InferResponse
}

type inferService struct {
	engine *inference.Engine
}

func NewInferService(engine *inference.Engine) InferService {
	return &inferService{engine: engine}
}

func (s *inferService) Infer(req *InferRequest) *InferResponse {
	headers := inference.NormalizeHeaders(req.Headers)
	fields := s.engine.InferFields(headers, req.Rows)
	MarkPrimary(fields, req.Headers, req.PrimaryKey)
	return &InferResponse{Headers: headers, Fields: fields}
}

// MarkPrimary flags the columns named in keys as primary. raw holds the
// headers before normalization, aligned with fields.
func MarkPrimary(fields model.FieldMap, raw []string, keys []string) {
	for _, k := range keys {
		normalized := inference.NormalizeHeader(k)
		for i := range fields {
			rawMatch := i < len(raw) && raw[i] == k
			if fields[i].Name == k || fields[i].Name == normalized || rawMatch {
				fields[i].Definition.IsPrimary = true
			}
		}
	}
}
