package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "mdfeed/config"
	"mdfeed/internal/channel"
	"mdfeed/internal/metrics"
	"mdfeed/internal/wire"
	"mdfeed/logger"
)

// memFileWriter is an in-memory source.ParquetFile used to build a file
// before it is uploaded or written to disk.
type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type parquetBuffer struct {
	msgType wire.MessageType
	symbol  string
	rows    []interface{}
	records int
}

// ParquetSink buffers records per message type and symbol and writes one
// parquet file per buffer when it reaches the batch size or on Flush.
type ParquetSink struct {
	batchSize   int
	timeFormat  string
	compression parquet.CompressionCodec
	pageSize    int64

	localDir string
	s3       ObjectPutter
	bucket   string
	prefix   string

	mu      sync.Mutex
	buffers map[string]*parquetBuffer
	stats   metrics.WriterStats
	now     func() time.Time
	log     *logger.Log
}

// NewParquetSink builds a sink from configuration, creating an S3 client when
// S3 storage is enabled.
func NewParquetSink(ctx context.Context, cfg *appconfig.Config) (*ParquetSink, error) {
	var putter ObjectPutter
	if cfg.Storage.S3.Enabled {
		client, err := NewS3Client(ctx, cfg.Storage.S3)
		if err != nil {
			return nil, err
		}
		putter = client
	}
	return newParquetSink(cfg.Writer, cfg.Storage, putter)
}

func newParquetSink(wcfg appconfig.WriterConfig, scfg appconfig.StorageConfig, putter ObjectPutter) (*ParquetSink, error) {
	codec, err := compressionCodec(wcfg.Parquet.Compression)
	if err != nil {
		return nil, err
	}
	p := &ParquetSink{
		batchSize:   wcfg.Batch.Size,
		timeFormat:  wcfg.Partitioning.TimeFormat,
		compression: codec,
		pageSize:    wcfg.Parquet.PageSize,
		buffers:     make(map[string]*parquetBuffer),
		now:         time.Now,
		log:         logger.GetLogger(),
	}
	if p.batchSize <= 0 {
		p.batchSize = 10000
	}
	if scfg.Local.Enabled {
		p.localDir = scfg.Local.Dir
	}
	if scfg.S3.Enabled {
		if putter == nil {
			return nil, fmt.Errorf("s3 storage enabled without a client")
		}
		p.s3 = putter
		p.bucket = scfg.S3.Bucket
		p.prefix = strings.Trim(scfg.S3.Prefix, "/")
	}
	if p.localDir == "" && p.s3 == nil {
		return nil, fmt.Errorf("parquet sink needs local or s3 storage")
	}
	return p, nil
}

// NewS3Client loads the AWS configuration the same way for every S3 user:
// static credentials when both keys are set, the default chain otherwise.
func NewS3Client(ctx context.Context, cfg appconfig.S3Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "zstd":
		return parquet.CompressionCodec_ZSTD, nil
	case "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported parquet compression '%s'", name)
	}
}

func (p *ParquetSink) Name() string { return "parquet" }

func (p *ParquetSink) Write(ctx context.Context, rec channel.Record) error {
	rows := toRows(rec)
	if len(rows) == 0 {
		return nil
	}
	h := rec.Message.Header()
	symbol := wire.SymbolOf(rec.Message).String()
	key := fmt.Sprintf("%d|%s", h.Type, symbol)

	p.mu.Lock()
	buf, ok := p.buffers[key]
	if !ok {
		buf = &parquetBuffer{msgType: h.Type, symbol: symbol}
		p.buffers[key] = buf
	}
	buf.rows = append(buf.rows, rows...)
	buf.records++
	full := buf.records >= p.batchSize
	if full {
		delete(p.buffers, key)
	}
	p.mu.Unlock()

	if full {
		return p.writeBuffer(ctx, buf)
	}
	return nil
}

// Flush writes every non-empty buffer. Errors are joined per buffer; a failed
// buffer is not retried.
func (p *ParquetSink) Flush(ctx context.Context) error {
	p.mu.Lock()
	pending := make([]*parquetBuffer, 0, len(p.buffers))
	for _, b := range p.buffers {
		pending = append(pending, b)
	}
	p.buffers = make(map[string]*parquetBuffer)
	p.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].msgType != pending[j].msgType {
			return pending[i].msgType < pending[j].msgType
		}
		return pending[i].symbol < pending[j].symbol
	})

	var failed []string
	for _, b := range pending {
		if err := p.writeBuffer(ctx, b); err != nil {
			failed = append(failed, err.Error())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("parquet flush: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (p *ParquetSink) Close(ctx context.Context) error {
	err := p.Flush(ctx)
	metrics.ReportWriter(p.log, "parquet_writer", p.Stats())
	return err
}

// Stats returns a copy of the sink counters.
func (p *ParquetSink) Stats() metrics.WriterStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *ParquetSink) writeBuffer(ctx context.Context, b *parquetBuffer) error {
	if len(b.rows) == 0 {
		return nil
	}
	log := p.log.WithComponent("parquet_writer")

	data, err := p.encode(b)
	if err != nil {
		p.recordError()
		log.WithError(err).WithFields(logger.Fields{"type": b.msgType.String(), "symbol": b.symbol}).Error("create parquet failed")
		return err
	}

	key := p.objectKey(b, p.now().UTC())
	files := int64(0)
	if p.localDir != "" {
		if err := p.writeLocal(key, data); err != nil {
			p.recordError()
			log.WithError(err).WithFields(logger.Fields{"key": key}).Error("write local parquet failed")
			return err
		}
		files++
	}
	if p.s3 != nil {
		if err := p.upload(ctx, key, data); err != nil {
			p.recordError()
			log.WithError(err).WithFields(logger.Fields{"key": key, "bucket": p.bucket}).Error("upload to s3 failed")
			return err
		}
		files++
	}

	p.mu.Lock()
	p.stats.RecordsWritten += int64(b.records)
	p.stats.BatchesWritten++
	p.stats.FilesWritten += files
	p.stats.BytesWritten += int64(len(data)) * files
	p.mu.Unlock()

	logger.RecordFlow("parquet_write", len(data))
	logger.LogDataFlowEntry(log, "decoded_channel", "parquet", b.records, partitionName(b.msgType))
	log.WithFields(logger.Fields{
		"key":     key,
		"records": b.records,
		"rows":    len(b.rows),
		"bytes":   len(data),
	}).Info("parquet batch written")
	return nil
}

func (p *ParquetSink) recordError() {
	p.mu.Lock()
	p.stats.ErrorsCount++
	p.mu.Unlock()
}

func (p *ParquetSink) encode(b *parquetBuffer) ([]byte, error) {
	schema := schemaFor(b.msgType)
	if schema == nil {
		return nil, fmt.Errorf("no parquet schema for %s", b.msgType)
	}
	mw := newMemFileWriter()
	pw, err := pqwriter.NewParquetWriter(mw, schema, 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = p.compression
	if p.pageSize > 0 {
		pw.PageSize = p.pageSize
	}
	for _, row := range b.rows {
		if err := pw.Write(row); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mw.Bytes(), nil
}

// objectKey builds {prefix}/type=T/symbol=S/{time partition}/T_S_{uuid}.parquet.
func (p *ParquetSink) objectKey(b *parquetBuffer, ts time.Time) string {
	typeName := partitionName(b.msgType)
	parts := []string{}
	if p.prefix != "" {
		parts = append(parts, p.prefix)
	}
	parts = append(parts,
		fmt.Sprintf("type=%s", typeName),
		fmt.Sprintf("symbol=%s", b.symbol),
	)
	if p.timeFormat != "" {
		parts = append(parts, ts.Format(p.timeFormat))
	}
	parts = append(parts, fmt.Sprintf("%s_%s_%s.parquet", typeName, b.symbol, uuid.New().String()))
	return path.Join(parts...)
}

func (p *ParquetSink) writeLocal(key string, data []byte) error {
	full := filepath.Join(p.localDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	fw, err := local.NewLocalFileWriter(full)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}

func (p *ParquetSink) upload(ctx context.Context, key string, data []byte) error {
	_, err := p.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	return err
}
