package receipt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-ocr/internal/extract"
	"github.com/zombor/receipt-ocr/internal/scanning"
)

// IDGenerator generates unique batch IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Workers runs OCR work with a worker-owned engine. *scanning.Pool implements it.
type Workers interface {
	Do(ctx context.Context, fn func(scanning.Engine) error) error
}

// TaxLookup returns the raw tax status text for a business number.
// *nts.Client implements it.
type TaxLookup interface {
	TaxType(ctx context.Context, businessNumber, serviceKey string) (string, error)
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the service settings that do not change per request.
type Config struct {
	// ServiceKey is used for tax lookups when a batch brings none.
	ServiceKey string
	Raster     scanning.RasterOptions
}

// Service handles receipt batches
type Service struct {
	db          DB
	storage     Storage
	workers     Workers
	lookup      TaxLookup
	cfg         Config
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, workers Workers, lookup TaxLookup, cfg Config) *Service {
	return NewServiceWithDeps(db, storage, workers, lookup, cfg, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, workers Workers, lookup TaxLookup, cfg Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		workers:     workers,
		lookup:      lookup,
		cfg:         cfg,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// usageDay is the usage ledger key for t
func usageDay(t time.Time) string {
	return t.Format("2006-01-02")
}

// ProcessBatch runs every upload through the pipeline and stores the result.
// It waits for all uploads; a failing upload only fails its own outcome.
func (s *Service) ProcessBatch(ctx context.Context, batch Batch) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{
		ID:        s.idGenerator.Generate(),
		ClientID:  batch.ClientID,
		CreatedAt: s.timeSource.Now(),
		Outcomes:  make([]Outcome, len(batch.Files)),
	}

	var g errgroup.Group
	for i, upload := range batch.Files {
		g.Go(func() error {
			result.Outcomes[i] = s.processOne(ctx, result.ID, batch, i, upload)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range result.Outcomes {
		if o.Failed() {
			result.Failed++
			imagesProcessed.WithLabelValues("failed").Inc()
			stageFailures.WithLabelValues(string(o.FailedAt)).Inc()
		} else {
			result.Succeeded++
			imagesProcessed.WithLabelValues("succeeded").Inc()
		}
	}
	batchDuration.Observe(time.Since(start).Seconds())

	if err := s.db.SaveBatch(result); err != nil {
		return nil, fmt.Errorf("saving batch: %w", err)
	}

	slog.Info("Processed batch",
		"batch", result.ID,
		"client", batch.ClientID,
		"files", len(batch.Files),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *Service) processOne(ctx context.Context, batchID string, batch Batch, index int, upload Upload) Outcome {
	out := Outcome{Index: index, OriginalFile: upload.Filename, Stage: StageReceived}

	var (
		img *image.NRGBA
		ocr scanning.Result
	)
	err := s.workers.Do(ctx, func(eng scanning.Engine) error {
		var err error
		img, err = scanning.Rasterize(upload.Data, upload.Filename, s.cfg.Raster)
		if err != nil {
			return err
		}
		out.Stage = StageRasterized

		ocr, err = scanning.Recognize(ctx, eng, img)
		if err != nil {
			return err
		}
		out.Stage = StageRecognized
		return nil
	})
	if err != nil {
		if errors.Is(err, scanning.ErrOCR) {
			// the engine may fail to start before the image is even decoded
			out.Stage = StageRasterized
		}
		return fail(out, err)
	}

	fields := extract.Extract(extract.Document{Lines: ocr.Lines, FullText: ocr.FullText})
	out.Lines = ocr.Lines
	out.Stage = StageFieldsExtracted

	rec := &Record{
		BusinessNumber: fields.BusinessNumber,
		PaymentDate:    fields.PaymentDate,
		MerchantName:   fields.MerchantName,
		PaymentAmount:  fields.PaymentAmount,
		HasAmount:      fields.HasAmount,
		TaxType:        s.classify(ctx, batch, fields.BusinessNumber),
	}
	out.Record = rec
	out.Stage = StageClassified

	names := Assemble(*rec)
	out.Stage = StageAssembled

	scope := path.Join(scopeSegment(batch.ClientID), batchID)
	if err := s.persist(&out, scope, names, img, ocr.Regions); err != nil {
		return fail(out, err)
	}
	out.Stage = StagePersisted
	return out
}

// fail marks out failed at the stage after the last one it reached.
func fail(out Outcome, err error) Outcome {
	out.FailedAt = nextStage(out.Stage)
	out.Stage = StageFailed
	out.Error = err.Error()

	slog.Warn("Failed to process receipt",
		"filename", out.OriginalFile,
		"stage", out.FailedAt,
		"error", err,
	)
	return out
}

func nextStage(s Stage) Stage {
	switch s {
	case StageReceived:
		return StageRasterized
	case StageRasterized:
		return StageRecognized
	case StageAssembled:
		return StagePersisted
	}
	return s
}

// classify looks up the tax type when there is a business number and a key.
// Every lookup that is made counts against the client's daily usage.
func (s *Service) classify(ctx context.Context, batch Batch, businessNumber string) extract.TaxType {
	key := batch.ServiceKey
	if key == "" {
		key = s.cfg.ServiceKey
	}
	if businessNumber == "" || key == "" || s.lookup == nil {
		return extract.TaxUnknown
	}

	raw, err := s.lookup.TaxType(ctx, businessNumber, key)
	if _, uerr := s.db.IncrementUsage(usageDay(s.timeSource.Now()), batch.ClientID); uerr != nil {
		slog.Warn("Failed to record lookup usage", "client", batch.ClientID, "error", uerr)
	}
	if err != nil {
		taxLookups.WithLabelValues("error").Inc()
		slog.Warn("Tax lookup failed", "business_number", businessNumber, "error", err)
		return extract.TaxError
	}
	taxLookups.WithLabelValues("ok").Inc()
	return extract.NormalizeTaxType(&raw)
}

func (s *Service) persist(out *Outcome, scope string, names Names, img *image.NRGBA, regions []scanning.Region) error {
	var buf bytes.Buffer
	if err := scanning.EncodePNG(&buf, img); err != nil {
		return err
	}
	renamed, err := s.storage.Save(path.Join(scope, string(FileRenamed)), names.Plain, buf.Bytes())
	if err != nil {
		return fmt.Errorf("saving renamed file: %w", err)
	}

	buf.Reset()
	if err := scanning.EncodePNG(&buf, scanning.Annotate(img, regions)); err != nil {
		s.storage.Delete(renamed)
		return err
	}
	visualized, err := s.storage.Save(path.Join(scope, string(FileVisualized)), names.Visualized, buf.Bytes())
	if err != nil {
		s.storage.Delete(renamed)
		return fmt.Errorf("saving visualized file: %w", err)
	}

	out.RenamedPath, out.RenamedFile = renamed, path.Base(renamed)
	out.VisualizedPath, out.VisualizedFile = visualized, path.Base(visualized)
	return nil
}

// FileKind selects the renamed original or its visualization.
type FileKind string

const (
	FileRenamed    FileKind = "renamed"
	FileVisualized FileKind = "visualized"
)

// GetBatch returns a batch owned by clientID
func (s *Service) GetBatch(clientID, id string) (*BatchResult, error) {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	if batch.ClientID != clientID {
		return nil, fmt.Errorf("getting batch: %w: %s", ErrBatchNotFound, id)
	}
	return batch, nil
}

// ListBatches returns the client's batches
func (s *Service) ListBatches(clientID string) ([]*BatchResult, error) {
	batches, err := s.db.ListBatches(clientID)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	return batches, nil
}

// GetFile returns a stored file of a batch by its name
func (s *Service) GetFile(clientID, batchID string, kind FileKind, name string) ([]byte, error) {
	batch, err := s.GetBatch(clientID, batchID)
	if err != nil {
		return nil, err
	}
	for _, o := range batch.Outcomes {
		switch {
		case kind == FileRenamed && o.RenamedFile == name && name != "":
			return s.storage.Get(o.RenamedPath)
		case kind == FileVisualized && o.VisualizedFile == name && name != "":
			return s.storage.Get(o.VisualizedPath)
		}
	}
	return nil, fmt.Errorf("%w: no %s file %s", ErrFileNotFound, kind, name)
}

// ErrFileNotFound is returned by GetFile for names not in the batch.
var ErrFileNotFound = errors.New("file not found")

// Usage is the tax lookup count for one day
type Usage struct {
	Day    string `json:"day"`
	Total  int    `json:"total"`
	Client int    `json:"client"`
}

// GetUsage returns today's lookup counts
func (s *Service) GetUsage(clientID string) (*Usage, error) {
	day := usageDay(s.timeSource.Now())
	total, err := s.db.DailyUsage(day)
	if err != nil {
		return nil, fmt.Errorf("getting daily usage: %w", err)
	}
	client, err := s.db.GetUsage(day, clientID)
	if err != nil {
		return nil, fmt.Errorf("getting client usage: %w", err)
	}
	return &Usage{Day: day, Total: total, Client: client}, nil
}
