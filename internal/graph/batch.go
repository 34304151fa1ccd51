package graph

import (
	"context"
	"encoding/json"
	"fmt"
)

// MaxBatchSize is the number of sub-requests Graph accepts per $batch call.
const MaxBatchSize = 20

// BatchRequest is one entry of a JSON batch request. URL is relative to the
// service root, e.g. "/me/messages/abc".
type BatchRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

// BatchResponse is one entry of a JSON batch response. A Status of 0 means
// the provider returned no answer for the request ID.
type BatchResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Err classifies a failed sub-request, or returns nil on success.
func (r BatchResponse) Err() error {
	if r.Status >= 200 && r.Status < 300 {
		return nil
	}
	if r.Status == 0 {
		return &APIError{Kind: KindUnknown, Detail: "no response for batch sub-request"}
	}
	return classifyStatus(r.Status, errorDetail(r.Body))
}

// Batch executes the given sub-requests via the $batch endpoint, splitting
// them into provider-sized chunks. The returned slice has one response per
// request, in request order, regardless of per-item failures.
func (c *Client) Batch(ctx context.Context, reqs []BatchRequest) ([]BatchResponse, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	results := make([]BatchResponse, 0, len(reqs))
	for start := 0; start < len(reqs); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		chunk, err := c.batchChunk(ctx, reqs[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, chunk...)
	}
	return results, nil
}

func (c *Client) batchChunk(ctx context.Context, reqs []BatchRequest) ([]BatchResponse, error) {
	payload := struct {
		Requests []BatchRequest `json:"requests"`
	}{Requests: reqs}

	var envelope struct {
		Responses []BatchResponse `json:"responses"`
	}
	if err := c.PostJSON(ctx, "/$batch", payload, &envelope); err != nil {
		return nil, fmt.Errorf("batch request: %w", err)
	}

	// Graph may answer out of order; correlate by ID and keep request order.
	byID := make(map[string]BatchResponse, len(envelope.Responses))
	for _, resp := range envelope.Responses {
		byID[resp.ID] = resp
	}

	results := make([]BatchResponse, 0, len(reqs))
	for _, req := range reqs {
		if resp, ok := byID[req.ID]; ok {
			results = append(results, resp)
		} else {
			results = append(results, BatchResponse{ID: req.ID})
		}
	}
	return results, nil
}
