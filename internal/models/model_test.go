package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricByKey(t *testing.T) {
	auc := 0.93
	f1 := 0.81
	m := &ModelMetrics{AUCROC: &auc, F1Score: &f1}

	require.NotNil(t, m.MetricByKey("auc_roc"))
	assert.Equal(t, auc, *m.MetricByKey("auc_roc"))
	assert.Equal(t, f1, *m.MetricByKey("f1_score"))
	assert.Nil(t, m.MetricByKey("accuracy"), "unrecorded metrics come back nil")
	assert.Nil(t, m.MetricByKey("nonsense"))

	var missing *ModelMetrics
	assert.Nil(t, missing.MetricByKey("auc_roc"), "a model without a metrics row has no values")
}

func TestFeatureImportanceList_ScanJSONB(t *testing.T) {
	var list FeatureImportanceList
	err := list.Scan([]byte(`[{"feature":"income","weight":-0.4},{"feature":"__other__","weight":0.1}]`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "income", list[0].Feature)
	assert.Equal(t, -0.4, list[0].Weight)
	assert.Equal(t, OtherFeaturesKey, list[1].Feature)

	assert.Error(t, list.Scan(42), "unsupported driver types are rejected")
}
