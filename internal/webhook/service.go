package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"procurement_followup/platform/logger"
	"procurement_followup/platform/metrics"
)

// ErrUnclassifiable is returned when no channel could be derived from a payload.
var ErrUnclassifiable = errors.New("webhook payload could not be classified into a channel")

// Correlator matches a callback to the attempt it answers. matched is false
// when no attempt was found; that is not an error.
type Correlator interface {
	Correlate(ctx context.Context, cb Callback) (matched bool, err error)
}

// PayloadArchive stores raw webhook bodies for later inspection.
type PayloadArchive interface {
	Archive(ctx context.Context, provider string, contentType string, body []byte) (string, error)
}

// Summary is the response body of the webhook endpoint.
type Summary struct {
	Received  bool `json:"received"`
	Processed int  `json:"processed"`
}

// Service runs normalization, content fetch and correlation for one request.
type Service struct {
	normalizer   *Normalizer
	correlator   Correlator
	fetcher      ContentFetcher
	archive      PayloadArchive
	metrics      *metrics.Metrics
	log          *logger.Logger
	fetchTimeout time.Duration
}

// ServiceOption customises optional collaborators.
type ServiceOption func(*Service)

// WithContentFetcher enables reference-only content resolution.
func WithContentFetcher(f ContentFetcher) ServiceOption {
	return func(s *Service) { s.fetcher = f }
}

// WithArchive enables raw payload archiving.
func WithArchive(a PayloadArchive) ServiceOption {
	return func(s *Service) { s.archive = a }
}

// WithMetrics records callback counters.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func NewService(correlator Correlator, log *logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		normalizer:   NewNormalizer(),
		correlator:   correlator,
		log:          log,
		fetchTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process handles one webhook body. Correlation failures are logged per
// callback and never fail the request.
func (s *Service) Process(ctx context.Context, contentType string, raw []byte, headers http.Header) (Summary, error) {
	provider, callbacks := s.normalizer.Normalize(contentType, raw, headers)
	if len(callbacks) == 0 {
		return Summary{}, ErrUnclassifiable
	}

	archiveKey := s.archivePayload(ctx, provider, contentType, raw)

	summary := Summary{Received: true}
	for _, cb := range callbacks {
		cb.setMeta(MetaRawPayloadKey, archiveKey)
		if cb.IsReply() && cb.Response == "" && cb.Meta(MetaContentID) != "" {
			s.fetchContent(ctx, &cb)
		}

		matched, err := s.correlator.Correlate(ctx, cb)
		if err != nil {
			s.log.WithContext(ctx).Error("callback correlation failed",
				"provider", cb.Provider,
				"channel", cb.Channel,
				"messageId", cb.MessageID,
				"status", cb.Status,
				"error", err,
			)
		}
		if !matched && err == nil {
			s.log.CallbackUnmatched(string(cb.Provider), string(cb.Channel), cb.MessageID, string(cb.Status))
		}
		if matched {
			summary.Processed++
		}
		s.metrics.CallbackReceived(string(cb.Provider), string(cb.Channel), string(cb.Status), matched)
	}
	return summary, nil
}

// fetchContent degrades to whatever the webhook carried when the fetch fails.
func (s *Service) fetchContent(ctx context.Context, cb *Callback) {
	if s.fetcher == nil {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	content, err := s.fetcher.FetchContent(fetchCtx, cb.Meta(MetaContentID))
	if err != nil {
		s.log.Warn("inbound content fetch failed", "contentId", cb.Meta(MetaContentID), "error", err)
		cb.setMeta(MetaContentFetch, err.Error())
		return
	}
	content.enrich(cb)
}

func (s *Service) archivePayload(ctx context.Context, provider Provider, contentType string, raw []byte) string {
	if s.archive == nil {
		return ""
	}
	key, err := s.archive.Archive(ctx, string(provider), contentType, raw)
	if err != nil {
		s.log.Warn("webhook payload archive failed", "provider", provider, "error", err)
		return ""
	}
	return key
}
