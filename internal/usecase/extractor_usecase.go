package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/pkg/metrics"
	"github.com/user/corpus-trainer/pkg/utils"
)

var (
	ErrMissingField     = errors.New("missing field")
	ErrMalformedContent = errors.New("malformed content")
)

// ExtractError is a non-retryable extraction failure for one page or record.
type ExtractError struct {
	Kind  error
	URL   string
	Field string
	Err   error
}

func (e *ExtractError) Error() string {
	msg := fmt.Sprintf("extract %s: %v", e.URL, e.Kind)
	if e.Field != "" {
		msg += fmt.Sprintf(" %q", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func extractErrorLabel(err error) string {
	switch {
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrMalformedContent):
		return "malformed_content"
	default:
		return "unknown"
	}
}

// Extraction is the outcome for one record. Inserted is false when a record
// with the same fingerprint already existed; Record is then the stored one.
type Extraction struct {
	Record   *entity.CorpusRecord
	Inserted bool
}

// PageResult collects the records of one page and the records that were skipped.
type PageResult struct {
	Extractions []*Extraction
	Skipped     []error
}

// Extractor turns snapshots into corpus records and stores new ones.
type Extractor struct {
	rules *Rules
	store repository.CorpusRepository
	locks *keyedMutex
	cache *lru.Cache[string, *entity.CorpusRecord]
	now   func() time.Time
}

// NewExtractor builds an Extractor; cacheSize bounds the recent-fingerprint cache.
func NewExtractor(rules *Rules, store repository.CorpusRepository, cacheSize int) (*Extractor, error) {
	if cacheSize < 1 {
		cacheSize = 1
	}
	cache, err := lru.New[string, *entity.CorpusRecord](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Extractor{
		rules: rules,
		store: store,
		locks: newKeyedMutex(),
		cache: cache,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Extract treats the whole document as one record.
func (e *Extractor) Extract(ctx context.Context, snap *entity.PageSnapshot) (*Extraction, error) {
	doc, err := e.parse(snap)
	if err != nil {
		return nil, err
	}
	return e.extractScope(ctx, snap, doc.Selection)
}

// ExtractPage extracts one record per RecordSelector match, or the whole
// document when no record selector is configured. Per-record extraction errors
// are returned in Skipped; the returned error is reserved for page-level
// extraction errors, cancellation and store failures.
func (e *Extractor) ExtractPage(ctx context.Context, snap *entity.PageSnapshot) (*PageResult, error) {
	result := &PageResult{}
	if e.rules.RecordSelector == "" {
		x, err := e.Extract(ctx, snap)
		if err != nil {
			return nil, err
		}
		result.Extractions = append(result.Extractions, x)
		return result, nil
	}

	doc, err := e.parse(snap)
	if err != nil {
		return nil, err
	}
	containers := doc.Find(e.rules.RecordSelector)
	if containers.Length() == 0 {
		return nil, &ExtractError{Kind: ErrMissingField, URL: snap.URL, Field: e.rules.RecordSelector}
	}

	for i := 0; i < containers.Length(); i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if e.rules.MaxRecordsPerPage > 0 && len(result.Extractions) >= e.rules.MaxRecordsPerPage {
			break
		}
		x, err := e.extractScope(ctx, snap, containers.Eq(i))
		if err != nil {
			var extractErr *ExtractError
			if errors.As(err, &extractErr) {
				result.Skipped = append(result.Skipped, err)
				continue
			}
			return result, err
		}
		result.Extractions = append(result.Extractions, x)
	}
	return result, nil
}

func (e *Extractor) parse(snap *entity.PageSnapshot) (*goquery.Document, error) {
	if strings.TrimSpace(snap.Content) == "" {
		return nil, &ExtractError{Kind: ErrMalformedContent, URL: snap.URL, Err: errors.New("empty document")}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.Content))
	if err != nil {
		return nil, &ExtractError{Kind: ErrMalformedContent, URL: snap.URL, Err: err}
	}
	doc.Find("script, style, noscript").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})
	return doc, nil
}

func (e *Extractor) extractScope(ctx context.Context, snap *entity.PageSnapshot, scope *goquery.Selection) (*Extraction, error) {
	fields := make(map[string]string, len(e.rules.Fields))
	for _, rule := range e.rules.Fields {
		value, ok := rule.evaluate(scope)
		if !ok {
			if rule.Required {
				return nil, &ExtractError{Kind: ErrMissingField, URL: snap.URL, Field: rule.Name}
			}
			continue
		}
		fields[rule.Name] = value
	}

	raw, ok := fields[e.rules.TextField]
	if !ok {
		return nil, &ExtractError{Kind: ErrMissingField, URL: snap.URL, Field: e.rules.TextField}
	}
	if utils.CollapseWhitespace(raw) == "" {
		return nil, &ExtractError{Kind: ErrMalformedContent, URL: snap.URL, Field: e.rules.TextField, Err: errors.New("blank text")}
	}

	label := ""
	if e.rules.LabelField != "" {
		if v, ok := fields[e.rules.LabelField]; ok {
			label = e.rules.mapLabel(v)
		}
	}

	rec := &entity.CorpusRecord{
		Fingerprint: utils.Fingerprint(raw),
		SourceURL:   snap.URL,
		RawText:     raw,
		Fields:      fields,
		Label:       label,
		InsertedAt:  e.now(),
	}
	return e.persist(ctx, rec)
}

// persist inserts rec unless its fingerprint is known, holding the
// fingerprint's lock for the whole check-then-insert.
func (e *Extractor) persist(ctx context.Context, rec *entity.CorpusRecord) (*Extraction, error) {
	unlock := e.locks.Lock(rec.Fingerprint)
	defer unlock()

	if existing, ok := e.cache.Get(rec.Fingerprint); ok {
		metrics.RecordsTotal.WithLabelValues("duplicate").Inc()
		return &Extraction{Record: existing, Inserted: false}, nil
	}

	existing, err := e.store.ByFingerprint(ctx, rec.Fingerprint)
	switch {
	case err == nil:
		e.cache.Add(rec.Fingerprint, existing)
		metrics.RecordsTotal.WithLabelValues("duplicate").Inc()
		return &Extraction{Record: existing, Inserted: false}, nil
	case !errors.Is(err, repository.ErrRecordNotFound):
		return nil, fmt.Errorf("look up fingerprint %s: %w", rec.Fingerprint, err)
	}

	inserted, err := e.store.Put(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("store record %s: %w", rec.Fingerprint, err)
	}
	if !inserted {
		// Another writer (a second process on the same database) won the race.
		existing, err := e.store.ByFingerprint(ctx, rec.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("look up fingerprint %s: %w", rec.Fingerprint, err)
		}
		rec = existing
	}

	e.cache.Add(rec.Fingerprint, rec)
	outcome := "duplicate"
	if inserted {
		outcome = "inserted"
	}
	metrics.RecordsTotal.WithLabelValues(outcome).Inc()
	return &Extraction{Record: rec, Inserted: inserted}, nil
}
