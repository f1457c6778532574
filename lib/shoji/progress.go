package shoji

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type progressValue struct {
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

// ProgressURL extracts the progress resource from a 202 response, the
// body of which is a shoji:view whose value is the progress url.
func ProgressURL(res *Response) (string, bool) {
	if res.StatusCode != http.StatusAccepted {
		return "", false
	}
	var view struct {
		Value string `json:"value"`
	}
	if res.JSON(&view) != nil || view.Value == "" {
		return "", false
	}
	return view.Value, true
}

// WaitProgress polls the progress resource of an accepted request until
// it reports completion. Responses that are not 202 return immediately.
func (s *Session) WaitProgress(ctx context.Context, res *Response, interval time.Duration) error {
	progressUrl, ok := ProgressURL(res)
	if !ok {
		return nil
	}

	ctx, span := tracer.Start(ctx, "progress:wait")
	defer span.End()
	span.SetAttributes(attribute.String("custom.progress_url", progressUrl))

	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		doc, err := s.Get(ctx, progressUrl, nil)
		if err != nil {
			span.SetStatus(codes.Error, "failed to fetch progress")
			return err
		}
		var value progressValue
		if len(doc.Value) > 0 {
			err = json.Unmarshal(doc.Value, &value)
			if err != nil {
				return fmt.Errorf("decode progress: %w", err)
			}
		}
		slog.DebugContext(ctx, "progress", "url", progressUrl, "progress", value.Progress)

		switch {
		case value.Progress >= 100:
			return nil
		case value.Progress < 0:
			span.SetStatus(codes.Error, value.Message)
			return fmt.Errorf("%w: %s", ErrProgressFailed, value.Message)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
