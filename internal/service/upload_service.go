package service

import (
	"context"

	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/ingest"
	"dynamic-table/internal/model"
	"dynamic-table/internal/queue"
)

// Route modes of an upload.
const (
	ModeInline = "inline"
	ModeQueued = "queued"
)

// UploadService accepts uploads either inline or through the batch queue.
type UploadService interface {
	// Sync ingests an upload in the request.
	Sync(ctx context.Context, upload *model.Upload) (*ingest.Result, error)
	// Enqueue publishes an upload as batches.
	Enqueue(ctx context.Context, upload *model.Upload) (*queue.DispatchResult, error)
	// Route picks Sync for small uploads and Enqueue for the rest.
	Route(ctx context.Context, upload *model.Upload) (*RouteResult, error)
}

type RouteResult struct {
	Mode     string                `json:"mode"`
	Ingest   *ingest.Result        `json:"ingest,omitempty"`
	Dispatch *queue.DispatchResult `json:"dispatch,omitempty"`
}

type uploadService struct {
	ingester   queue.Ingester
	dispatcher *queue.Dispatcher
	threshold  int
}

// NewUploadService creates an UploadService. dispatcher may be nil when no
// broker is configured, in which case every upload is ingested inline.
func NewUploadService(ingester queue.Ingester, dispatcher *queue.Dispatcher) UploadService {
	threshold := queue.DefaultBatchSize
	if dispatcher != nil {
		threshold = dispatcher.BatchSize()
	}
	return &uploadService{ingester: ingester, dispatcher: dispatcher, threshold: threshold}
}

func (s *uploadService) Sync(ctx context.Context, upload *model.Upload) (*ingest.Result, error) {
	return s.ingester.Ingest(ctx, model.BatchFromUpload(upload))
}

func (s *uploadService) Enqueue(ctx context.Context, upload *model.Upload) (*queue.DispatchResult, error) {
	if s.dispatcher == nil {
		return nil, apperrors.New(apperrors.CategoryTransport, apperrors.CodePublishFailed, "no queue is configured")
	}
	return s.dispatcher.Dispatch(ctx, upload)
}

func (s *uploadService) Route(ctx context.Context, upload *model.Upload) (*RouteResult, error) {
	if s.dispatcher == nil || len(upload.Rows) <= s.threshold {
		res, err := s.Sync(ctx, upload)
		if err != nil {
			return nil, err
		}
		return &RouteResult{Mode: ModeInline, Ingest: res}, nil
	}
	res, err := s.Enqueue(ctx, upload)
	if err != nil {
		return nil, err
	}
	return &RouteResult{Mode: ModeQueued, Dispatch: res}, nil
}
