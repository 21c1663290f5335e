package writer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/recallkit/internal/chunker"
	"github.com/dshills/recallkit/internal/embedder"
	"github.com/dshills/recallkit/pkg/types"
)

// fieldJob collects the vectors of one field as they arrive
type fieldJob struct {
	field   types.FieldName
	text    string
	windows []string

	vector []float32
	chunks [][]float32
	done   int // chunk vectors received
}

// EmbedFields computes whole-field and chunk vectors for fields concurrently.
// It returns once every call finished or ctx expired, whichever comes first;
// results arriving later are discarded. A field keeps its chunk list only when
// every chunk completed. Fields left without a full set of vectors are
// reported as missing together with the first error seen.
func EmbedFields(ctx context.Context, emb embedder.Embedder, ch *chunker.Chunker, limit int,
	rec *types.Record, fields []types.FieldName) (map[types.FieldName]types.FieldEmbedding, []types.FieldName, error) {

	jobs := make([]*fieldJob, len(fields))
	for i, f := range fields {
		text := rec.Text(f)
		job := &fieldJob{field: f, text: text, windows: ch.Split(text)}
		if len(job.windows) > 0 {
			job.chunks = make([][]float32, len(job.windows))
		}
		jobs[i] = job
	}

	var (
		mu     sync.Mutex
		sealed bool
		first  error
	)
	record := func(err error, store func()) {
		mu.Lock()
		defer mu.Unlock()
		if sealed {
			return
		}
		if err != nil {
			if first == nil {
				first = err
			}
			return
		}
		store()
	}

	g := new(errgroup.Group)
	if limit > 0 {
		g.SetLimit(limit)
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for _, job := range jobs {
			g.Go(func() error {
				v, err := embedder.Embed(ctx, emb, job.text)
				record(err, func() { job.vector = v })
				return nil
			})
			for j, w := range job.windows {
				g.Go(func() error {
					v, err := embedder.Embed(ctx, emb, w)
					record(err, func() {
						job.chunks[j] = v
						job.done++
					})
					return nil
				})
			}
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	sealed = true

	out := make(map[types.FieldName]types.FieldEmbedding, len(jobs))
	var missing []types.FieldName
	for _, job := range jobs {
		fe := types.FieldEmbedding{Vector: job.vector}
		complete := len(job.chunks) == 0 || job.done == len(job.chunks)
		if len(job.chunks) > 0 && complete {
			fe.Chunks = job.chunks
		}
		if len(fe.Vector) == 0 || !complete {
			missing = append(missing, job.field)
		}
		out[job.field] = fe
	}
	if first == nil && len(missing) > 0 {
		first = ctx.Err()
	}
	return out, missing, first
}
