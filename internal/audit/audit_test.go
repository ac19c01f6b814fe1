package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalDetails(t *testing.T) {
	data, err := marshalDetails(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	data, err = marshalDetails(map[string]any{"status": "completed", "stats_applied": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"completed","stats_applied":true}`, string(data))

	_, err = marshalDetails(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestNullableTime(t *testing.T) {
	assert.Nil(t, nullableTime(time.Time{}))

	now := time.Now()
	got := nullableTime(now)
	require.NotNil(t, got)
	assert.True(t, got.Equal(now))
}
