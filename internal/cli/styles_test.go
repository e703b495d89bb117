package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/under-the-hammer/internal/model"
)

func TestFormatRisk(t *testing.T) {
	assert.Contains(t, FormatRisk(model.RiskCritical), "CRITICAL")
	assert.Contains(t, FormatRisk(model.RiskHigh), "HIGH")
	assert.Contains(t, FormatRisk(model.RiskMedium), "MEDIUM")
	assert.Contains(t, FormatRisk(model.RiskLow), "LOW")
	assert.Contains(t, FormatRisk(model.RiskNone), "-")
}

func TestFormatCategory(t *testing.T) {
	assert.Contains(t, FormatCategory(model.CategoryFocus), "FOCUS")
	assert.Contains(t, FormatCategory(model.CategoryWaiting), "WAITING")
	assert.Contains(t, FormatCategory(model.CategoryNone), "NEW")
}

func TestFormatMessages(t *testing.T) {
	assert.Contains(t, FormatSuccess("synced"), "synced")
	assert.Contains(t, FormatError("broken"), "broken")
	assert.Contains(t, FormatWarning("careful"), "careful")
	assert.Contains(t, FormatInfo("fyi"), "fyi")
	assert.Contains(t, FormatTitle("Under the Hammer"), "Under the Hammer")
}

func TestRenderBox(t *testing.T) {
	box := RenderBox("Scan Summary", "3 users scanned")
	assert.Contains(t, box, "Scan Summary")
	assert.Contains(t, box, "3 users scanned")
}
