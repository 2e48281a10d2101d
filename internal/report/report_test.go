package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel/internal/funnel"
)

func sample(t *testing.T) funnel.Report {
	t.Helper()
	r, err := funnel.Compute([]funnel.StageCount{
		{Stage: "landing_page", UniqueUsers: 1000},
		{Stage: "product_page", UniqueUsers: 600},
		{Stage: "add_to_cart", UniqueUsers: 300},
		{Stage: "checkout_page", UniqueUsers: 150},
		{Stage: "purchase_success", UniqueUsers: 60},
	})
	require.NoError(t, err)
	return r
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, sample(t)))

	want := "\n--- 📊 FINAL FUNNEL ANALYSIS REPORT ---\n" +
		"              stage  unique_users  step_conversion_rate  drop_off_rate  overall_conversion_rate\n" +
		"0      landing_page          1000                  0.00           0.00                   100.00\n" +
		"1      product_page           600                 60.00          40.00                    60.00\n" +
		"2       add_to_cart           300                 50.00          50.00                    30.00\n" +
		"3     checkout_page           150                 50.00          50.00                    15.00\n" +
		"4  purchase_success            60                 40.00          60.00                     6.00\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteTable_RowsAreAligned(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, sample(t)))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")[2:]
	for _, l := range lines[1:] {
		assert.Equal(t, len(lines[0]), len(l), l)
	}
}

func TestWriteBottleneck(t *testing.T) {
	r := sample(t)
	worst, ok := r.Bottleneck()

	var buf bytes.Buffer
	require.NoError(t, WriteBottleneck(&buf, worst, ok))
	assert.Equal(t,
		"\n--- 🚨 BOTTLENECK DETECTED ---\nThe biggest drop-off is at: purchase_success\nWe lost 60.0% of users here.\n",
		buf.String())

	buf.Reset()
	require.NoError(t, WriteBottleneck(&buf, funnel.StageMetrics{}, false))
	assert.Contains(t, buf.String(), "Not enough stages")
}

func TestFormatRate(t *testing.T) {
	for in, want := range map[float64]string{60: "60.0", 33.33: "33.33", -100: "-100.0", 0: "0.0", 66.67: "66.67"} {
		assert.Equal(t, want, FormatRate(in))
	}
}

func TestNotFoundMessage(t *testing.T) {
	assert.Equal(t, "❌ Error: 'user_data.csv' not found.", NotFoundMessage("user_data.csv"))
}
