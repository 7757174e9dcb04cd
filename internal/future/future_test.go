package future

import (
	"testing"

	"github.com/catompiler/pqrecorder/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestFuturePendingThenFinished(t *testing.T) {
	f := New[int]()
	assert.False(t, f.Done())

	_, ok := f.Result()
	assert.False(t, ok)

	f.Finish(errs.NoError, 42)
	assert.True(t, f.Done())

	v, ok := f.Result()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, errs.NoError, f.Code())
}

func TestFutureStartResetsForReuse(t *testing.T) {
	f := New[string]()
	f.Finish(errs.IOError, "first")
	assert.True(t, f.Done())

	f.Start()
	assert.False(t, f.Done())
	v, ok := f.Result()
	assert.False(t, ok)
	assert.Empty(t, v)
}
