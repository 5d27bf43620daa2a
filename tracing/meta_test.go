package tracing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordsPreservesInsertionOrderInJSON(t *testing.T) {
	r := NewRecords()
	r.Set("z", 1)
	r.Set("a", 2)
	r.Set("m", 3)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":2,"m":3}`, string(data))
}

func TestRecordsOverwriteKeepsPosition(t *testing.T) {
	r := NewRecords()
	r.Set("a", 1)
	r.Set("b", 2)
	r.Set("a", 99)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"a":99,"b":2}`, string(data))

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 99, v)
}

func TestRecordsUnmarshalPreservesOrder(t *testing.T) {
	r := NewRecords()
	err := json.Unmarshal([]byte(`{"first":1,"second":"two","third":[1,2,3]}`), r)
	require.NoError(t, err)

	require.Equal(t, 3, r.Len())

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"first":1,"second":"two","third":[1,2,3]}`, string(data))
}

func TestStepMetaOmitsResultAndErrorWhenRunning(t *testing.T) {
	meta := &StepMeta{Name: "s", Key: "s", Records: NewRecords()}
	data, err := json.Marshal(meta)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	_, hasResult := decoded["result"]
	_, hasError := decoded["error"]
	assert.False(t, hasResult)
	assert.False(t, hasError)
}
