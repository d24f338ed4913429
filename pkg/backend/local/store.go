/*
Package local implements a backend over an embedded badger database.

Points are kept in one compressed block per measurement and UTC day, keyed by
the day their range starts in. A per measurement record keeps the longest point
duration seen, so that reads know how far back a block can hold points
overlapping the requested range.
*/
package local

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/aggregate"
	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/bookingcom/inputkit/pkg/window"
)

const day = 24 * time.Hour

// Config configures the store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
	// CompressionLevel goes from 1 (fastest) to 4 (smallest).
	CompressionLevel int `yaml:"compressionLevel"`
}

// Store is a backend reading and writing points in badger.
type Store struct {
	db     *badger.DB
	codec  *codec
	logger *zap.Logger
	path   string
}

// Open opens or creates the store described by cfg.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.New(nil)
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open local store")
	}

	c, err := newCodec(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, err
	}

	lsm, vlog := db.Size()
	logger.Info("local store opened",
		zap.String("path", cfg.Path),
		zap.Bool("in_memory", cfg.InMemory),
		zap.String("lsm_size", humanize.IBytes(uint64(lsm))),
		zap.String("vlog_size", humanize.IBytes(uint64(vlog))),
	)

	path := cfg.Path
	if cfg.InMemory {
		path = "memory"
	}

	return &Store{db: db, codec: c, logger: logger, path: path}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	defer s.codec.close()
	return s.db.Close()
}

func (s *Store) Logger() *zap.Logger { return s.logger }

func (s *Store) GetServerAddress() string { return "local:" + s.path }

func blockPrefix(measurement string) []byte {
	key := []byte("b/")
	key = binary.AppendUvarint(key, uint64(len(measurement)))
	return append(key, measurement...)
}

func blockKey(measurement string, blockDay int64) []byte {
	return binary.BigEndian.AppendUint64(blockPrefix(measurement), uint64(blockDay))
}

func metaKey(measurement string) []byte {
	return append([]byte("m/"), measurement...)
}

// blockOf is the unix time of the UTC day t falls in.
func blockOf(t time.Time) int64 {
	return t.UTC().Truncate(day).Unix()
}

// longest returns the longest point duration recorded for measurement.
func longest(txn *badger.Txn, measurement string) (time.Duration, bool, error) {
	item, err := txn.Get(metaKey(measurement))
	if err == badger.ErrKeyNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	ms, n := binary.Varint(val)
	if n <= 0 {
		return 0, false, errCorrupt
	}

	return time.Duration(ms) * time.Millisecond, true, nil
}

// Write stores points for measurement. A point with the same range as a
// stored one replaces it.
func (s *Store) Write(ctx context.Context, measurement string, points []history.DataPoint) error {
	if measurement == "" {
		return types.NewConfigurationError("measurement", "", "must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	blocks := make(map[int64][]history.DataPoint)
	var maxDur time.Duration
	for _, p := range points {
		if p.End.Before(p.Start) {
			return &types.InvalidRangeError{Start: p.Start.UnixMilli(), End: p.End.UnixMilli(), Reason: "point ends before it starts"}
		}
		b := blockOf(p.Start)
		blocks[b] = append(blocks[b], p)
		if d := p.End.Sub(p.Start); d > maxDur {
			maxDur = d
		}
	}
	if len(blocks) == 0 {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		prev, _, err := longest(txn, measurement)
		if err != nil {
			return err
		}
		if prev > maxDur {
			maxDur = prev
		}

		for b, pts := range blocks {
			key := blockKey(measurement, b)
			stored, err := s.readBlock(txn, key)
			if err != nil {
				return err
			}
			if err := txn.Set(key, s.codec.encode(upsert(stored, pts))); err != nil {
				return err
			}
		}

		return txn.Set(metaKey(measurement), binary.AppendVarint(nil, maxDur.Milliseconds()))
	})
	if err != nil {
		return errors.Wrapf(err, "failed to write %s", measurement)
	}

	s.logger.Debug("points written",
		zap.String("measurement", measurement),
		zap.Int("points", len(points)),
		zap.Int("blocks", len(blocks)),
	)

	return nil
}

func (s *Store) readBlock(txn *badger.Txn, key []byte) ([]history.DataPoint, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	return s.codec.decode(val)
}

func upsert(stored, points []history.DataPoint) []history.DataPoint {
	type rangeKey [2]int64
	idx := make(map[rangeKey]int, len(stored))
	for i, p := range stored {
		idx[rangeKey{p.Start.UnixMilli(), p.End.UnixMilli()}] = i
	}

	for _, p := range points {
		k := rangeKey{p.Start.UnixMilli(), p.End.UnixMilli()}
		if i, ok := idx[k]; ok {
			stored[i] = p
			continue
		}
		idx[k] = len(stored)
		stored = append(stored, p)
	}

	return stored
}

// Contains reports whether any of measurements was ever written.
func (s *Store) Contains(measurements []string) bool {
	found := false
	_ = s.db.View(func(txn *badger.Txn) error {
		for _, m := range measurements {
			if _, ok, err := longest(txn, m); err == nil && ok {
				found = true
				return nil
			}
		}
		return nil
	})

	return found
}

// Read returns the points overlapping the requested range. Aggregated reads
// return one group per window of request.BucketBy, holding the sum of the
// points starting in it.
func (s *Store) Read(ctx context.Context, request types.ReadRequest) (history.Response, error) {
	var points []history.DataPoint

	err := s.db.View(func(txn *badger.Txn) error {
		maxDur, ok, err := longest(txn, request.Measurement)
		if err != nil || !ok {
			return err
		}

		from := blockOf(request.Range.Start.Add(-maxDur))
		to := blockOf(request.Range.End)
		prefix := blockPrefix(request.Measurement)

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(blockKey(request.Measurement, from)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			key := item.Key()
			if int64(binary.BigEndian.Uint64(bytes.TrimPrefix(key, prefix))) > to {
				break
			}

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			pts, err := s.codec.decode(val)
			if err != nil {
				return errors.Wrapf(err, "block %x", key)
			}

			for _, p := range pts {
				if request.Range.Overlaps(types.TimeRange{Start: p.Start, End: p.End}) {
					points = append(points, p)
				}
			}
		}

		return nil
	})
	if err != nil {
		return history.Response{}, err
	}
	if len(points) == 0 {
		return history.Response{}, types.ErrSamplesNotFound
	}

	if !request.UseAggregation {
		return history.Response{DataSets: []history.DataSet{{DataType: request.Measurement, Points: points}}}, nil
	}

	return summarize(request, points)
}

func summarize(request types.ReadRequest, points []history.DataPoint) (history.Response, error) {
	windows, err := window.Build(request.Range, request.BucketBy)
	if err != nil {
		return history.Response{}, err
	}
	if len(windows) == 0 {
		return history.Response{}, nil
	}

	var resp history.Response
	i := 0
	// Points starting before the range belong to an earlier window.
	for i < len(points) && points[i].Start.Before(windows[0].Start) {
		i++
	}
	for _, w := range windows {
		var sum history.Value
		for ; i < len(points) && points[i].Start.Before(w.End); i++ {
			if sum, err = aggregate.SumValues(sum, points[i].First()); err != nil {
				return history.Response{}, errors.Wrapf(err, "summarizing %s", request.Measurement)
			}
		}
		if sum.Format == history.FormatUnset {
			continue
		}

		resp.Groups = append(resp.Groups, history.Group{
			Range: w,
			DataSets: []history.DataSet{{
				DataType: request.Measurement,
				Points:   []history.DataPoint{history.NewDataPoint(w.Start, w.End, sum)},
			}},
		})
	}

	return resp, nil
}
