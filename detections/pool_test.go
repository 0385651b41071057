package detections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mri-vision/tumor-detection-service/models"
)

func fakeSessionFactory(runners *[]*fakeRunner, inputLen, outputLen int) SessionFactory {
	return func() (*ModelSession, error) {
		output := make([]float32, outputLen)
		runner := &fakeRunner{output: output}
		*runners = append(*runners, runner)
		return NewModelSession(runner, make([]float32, inputLen), output), nil
	}
}

func TestSessionPool_AcquireRelease(t *testing.T) {
	var runners []*fakeRunner
	pool, err := NewSessionPool(fakeSessionFactory(&runners, 4, 4), PoolOptions{Size: 2})
	require.NoError(t, err)
	defer pool.Destroy()
	require.Len(t, runners, 2)

	s1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	s2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(s1)
	s3, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, s1, s3)

	pool.Release(s2)
	pool.Release(s3)

	metrics := pool.GetMetrics()
	assert.Equal(t, 2, metrics.Size)
	assert.Equal(t, 2, metrics.Available)
	assert.Equal(t, 0, metrics.InUse)
	assert.EqualValues(t, 3, metrics.TotalAcquired)
	assert.EqualValues(t, 3, metrics.TotalReleased)
	assert.EqualValues(t, 1, metrics.AcquireFailures)
}

func TestSessionPool_InitFailureDestroysCreatedSessions(t *testing.T) {
	var runners []*fakeRunner
	ok := fakeSessionFactory(&runners, 1, 1)
	created := 0
	factory := func() (*ModelSession, error) {
		created++
		if created == 3 {
			return nil, errors.New("out of device memory")
		}
		return ok()
	}

	pool, err := NewSessionPool(factory, PoolOptions{Size: 4})

	require.Error(t, err)
	assert.Nil(t, pool)
	require.Len(t, runners, 2)
	for _, r := range runners {
		assert.EqualValues(t, 1, r.destroyed)
	}
}

func TestSessionPool_DiscardAndReplenish(t *testing.T) {
	var runners []*fakeRunner
	pool, err := NewSessionPool(fakeSessionFactory(&runners, 1, 1), PoolOptions{Size: 1, HealthCheckPeriod: time.Hour})
	require.NoError(t, err)
	defer pool.Destroy()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Discard(s, errors.New("session poisoned"))

	metrics := pool.GetMetrics()
	assert.EqualValues(t, 1, metrics.TotalDiscarded)
	assert.Equal(t, 0, metrics.Available)
	assert.Equal(t, []string{"session poisoned"}, metrics.LastErrors)
	assert.EqualValues(t, 1, runners[0].destroyed)

	pool.replenish()

	require.Len(t, runners, 2)
	fresh, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
	pool.Release(fresh)
}

func TestSessionPool_Destroy(t *testing.T) {
	var runners []*fakeRunner
	pool, err := NewSessionPool(fakeSessionFactory(&runners, 1, 1), PoolOptions{Size: 2})
	require.NoError(t, err)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Destroy()
	pool.Destroy()

	_, err = pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)

	pool.Release(held)
	for _, r := range runners {
		assert.EqualValues(t, 1, r.destroyed)
	}
}

func TestONNXModel_Infer(t *testing.T) {
	const anchors = 3
	var runners []*fakeRunner
	pool, err := NewSessionPool(fakeSessionFactory(&runners, 12, 5*anchors), PoolOptions{Size: 1})
	require.NoError(t, err)

	model := &onnxModel{pool: pool, numClasses: 1, numAnchors: anchors}
	defer model.Destroy()
	runners[0].values = []float32{
		50, 60, 70,
		50, 60, 70,
		10, 10, 10,
		20, 20, 20,
		0.1, 0.8, 0.4,
	}

	tensor := &models.Tensor{Data: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, Channels: 3, Height: 2, Width: 2}
	cands, err := model.Infer(context.Background(), tensor)
	require.NoError(t, err)

	require.Len(t, cands, anchors)
	assert.Equal(t, models.Box{55, 50, 10, 20}, cands[1].Box)
	assert.InDelta(t, 0.8, cands[1].Confidence, 1e-6)

	metrics := model.Metrics()
	assert.EqualValues(t, 1, metrics.TotalAcquired)
	assert.EqualValues(t, 1, metrics.TotalReleased)
	assert.True(t, model.ConcurrentSafe())
}

func TestONNXModel_RunFailureDiscardsSession(t *testing.T) {
	var runners []*fakeRunner
	pool, err := NewSessionPool(fakeSessionFactory(&runners, 3, 5), PoolOptions{Size: 1, HealthCheckPeriod: time.Hour})
	require.NoError(t, err)

	model := &onnxModel{pool: pool, numClasses: 1, numAnchors: 1}
	defer model.Destroy()
	runners[0].err = errors.New("CUDA error: an illegal memory access was encountered")

	_, err = model.Infer(context.Background(), &models.Tensor{Data: make([]float32, 3), Channels: 3, Height: 1, Width: 1})

	require.True(t, errors.Is(err, ErrInference))
	assert.EqualValues(t, 1, runners[0].destroyed)
	assert.EqualValues(t, 1, model.Metrics().TotalDiscarded)
}
