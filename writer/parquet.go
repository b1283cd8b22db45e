package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"ibtrading/config"
	"ibtrading/logger"
	"ibtrading/models"
)

type parquetBar struct {
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Date      string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Open      float64 `parquet:"name=open, type=DOUBLE"`
	High      float64 `parquet:"name=high, type=DOUBLE"`
	Low       float64 `parquet:"name=low, type=DOUBLE"`
	Close     float64 `parquet:"name=close, type=DOUBLE"`
	Volume    int64   `parquet:"name=volume, type=INT64"`
	WAP       float64 `parquet:"name=wap, type=DOUBLE"`
	BarCount  int64   `parquet:"name=bar_count, type=INT64"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// ParquetArchive encodes bar series as Parquet files, keeps them under a
// local directory and uploads them to S3 when configured.
type ParquetArchive struct {
	dir         string
	compression string
	bucket      string
	prefix      string
	s3Client    *s3.Client
	now         func() time.Time
	log         *logger.Entry
}

// ArchiveResult locates one written archive.
type ArchiveResult struct {
	Path  string
	Key   string
	Bytes int
	Rows  int
}

// NewParquetArchive builds an archive from the storage configuration. The
// S3 client is only created when storage.s3.enabled is set.
func NewParquetArchive(ctx context.Context, cfg config.StorageConfig) (*ParquetArchive, error) {
	a := &ParquetArchive{
		dir:         cfg.Parquet.Dir,
		compression: cfg.Parquet.Compression,
		bucket:      cfg.S3.Bucket,
		prefix:      cfg.S3.Prefix,
		now:         time.Now,
		log:         logger.GetLogger().WithComponent("parquet_archive"),
	}
	if !cfg.S3.Enabled {
		return a, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3.Region)}
	if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	a.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.PathStyle
	})
	return a, nil
}

// Encode renders bars of symbol as a Parquet file.
func (a *ParquetArchive) Encode(symbol string, bars []models.Bar) ([]byte, error) {
	mem := newMemFile()
	pw, err := pqwriter.NewParquetWriter(mem, new(parquetBar), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}

	switch strings.ToLower(a.compression) {
	case "", "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	symbol = strings.ToUpper(symbol)
	for _, b := range bars {
		rec := parquetBar{
			Symbol:   symbol,
			Date:     barDate(b),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume.IntPart(),
			WAP:      b.WAP.InexactFloat64(),
			BarCount: b.BarCount,
		}
		if t, ok := barTime(b); ok {
			rec.Timestamp = t.UnixMilli()
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write bar record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize bars parquet: %w", err)
	}
	return mem.Bytes(), nil
}

// Key is the object key of an archive written at t:
// [prefix/]date=YYYY-MM-DD/<SYMBOL>_bars_<timestamp>.parquet.
func (a *ParquetArchive) Key(symbol string, t time.Time) string {
	t = t.UTC()
	name := fmt.Sprintf("%s_bars_%s.parquet", strings.ToUpper(symbol), t.Format("20060102150405"))
	return path.Join(a.prefix, "date="+t.Format("2006-01-02"), name)
}

// Write encodes bars, stores the file under the archive directory when one
// is configured and uploads it when S3 is enabled.
func (a *ParquetArchive) Write(ctx context.Context, symbol string, bars []models.Bar) (ArchiveResult, error) {
	data, err := a.Encode(symbol, bars)
	if err != nil {
		return ArchiveResult{}, err
	}
	res := ArchiveResult{Key: a.Key(symbol, a.now()), Bytes: len(data), Rows: len(bars)}

	if a.dir != "" {
		res.Path = filepath.Join(a.dir, filepath.FromSlash(res.Key))
		if err := os.MkdirAll(filepath.Dir(res.Path), 0o755); err != nil {
			return res, fmt.Errorf("create archive directory: %w", err)
		}
		if err := os.WriteFile(res.Path, data, 0o644); err != nil {
			return res, fmt.Errorf("write archive: %w", err)
		}
	}
	if a.s3Client != nil {
		if err := a.upload(ctx, res.Key, data); err != nil {
			return res, err
		}
	}

	a.log.WithFields(logger.Fields{
		"symbol": symbol,
		"key":    res.Key,
		"path":   res.Path,
		"bytes":  res.Bytes,
	}).Info("bars archived")
	logger.LogDataFlowEntry(a.log, "session", "parquet", len(bars), "bars")
	return res, nil
}

func (a *ParquetArchive) upload(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"compression":  a.compression,
		},
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if _, err := a.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("upload bars parquet: %w", err)
	}
	return nil
}
