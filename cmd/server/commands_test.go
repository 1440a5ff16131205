package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	renderHistory(&buf, []leave.Summary{{
		EmployeeID: "emp-1",
		Year:       2023,
		Source:     leave.SourceYearClose,
		CreatedAt:  time.Now(),
		Entries: []leave.SummaryEntry{{
			Type:      leave.TypeCasual,
			Total:     generic.NewAmount(21, generic.UnitDays),
			Used:      generic.NewAmount(4.5, generic.UnitDays),
			Remaining: generic.NewAmount(16.5, generic.UnitDays),
		}},
	}})

	out := buf.String()
	assert.Contains(t, out, "LEAVE TYPE")
	assert.Contains(t, out, "emp-1")
	assert.Contains(t, out, "16.5")
	assert.Contains(t, out, "year_close")
}

func TestRenderBalances(t *testing.T) {
	var buf bytes.Buffer
	renderBalances(&buf, []leave.Entry{{
		Type:      leave.TypeDuty,
		Total:     generic.NewAmount(0, generic.UnitDays),
		Used:      generic.NewAmount(2, generic.UnitDays),
		Remaining: generic.NewAmount(0, generic.UnitDays),
	}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.GreaterOrEqual(t, len(lines), 5)
	assert.Contains(t, buf.String(), "DUTY")
}
