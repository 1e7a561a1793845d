package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordConfirm(t *testing.T) {
	before := testutil.ToFloat64(ConfirmOutcomes.WithLabelValues("expired"))
	RecordConfirm("expired", 0.002)
	RecordConfirm("expired", 0.004)
	assert.Equal(t, before+2, testutil.ToFloat64(ConfirmOutcomes.WithLabelValues("expired")))
}

func TestProjectionGauges(t *testing.T) {
	SetProjection(42, 12.5, 3)
	assert.Equal(t, 12.5, testutil.ToFloat64(ProjectedConfirmations.WithLabelValues("42")))
	assert.Equal(t, 3.0, testutil.ToFloat64(RemainingDoses.WithLabelValues("42")))

	ForgetCampaign(42)
	assert.Zero(t, testutil.CollectAndCount(ProjectedConfirmations, "vaxmatch_projected_confirmations"))
}
