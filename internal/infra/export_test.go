package infra

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

func exportFixture() []domain.DuplicationCheck {
	delayUntil := t0.Add(40 * time.Minute)
	return []domain.DuplicationCheck{
		{
			ID: "chk-1", CheckedAt: t0, RuleID: "default_follow_24h", TargetID: "user_a", TargetType: "user",
			ActionType: domain.ActionFollow, DeviceID: "dev1", TaskID: "task-9", Result: domain.ResultBlocked,
			Reason: "target already followed within 24 hours", Confidence: 95, ActionTaken: domain.TakenBlocked,
			Details:          domain.CheckDetails{CountForTarget: 1, CountForWindow: 3},
			FallbackStrategy: domain.FallbackSkip,
		},
		{
			ID: "chk-2", CheckedAt: t0.Add(5 * time.Minute), TargetID: "user_b",
			ActionType: domain.ActionReply, DeviceID: "dev2", Result: domain.ResultPass,
			Reason: "no duplication, all rules clear", Confidence: 100, ActionTaken: domain.TakenProceeded,
		},
		{
			ID: "chk-3", CheckedAt: t0.Add(10 * time.Minute), RuleID: "default_reply_1h", TargetID: "user_c", TargetType: "user",
			ActionType: domain.ActionReply, DeviceID: "dev3", Result: domain.ResultDelayed,
			Reason: "reply cooldown", Confidence: 95, ActionTaken: domain.TakenDelayed,
			Details:          domain.CheckDetails{CountForTarget: 2, CountForWindow: 2},
			DelayUntil:       &delayUntil,
			FallbackStrategy: domain.FallbackQueue,
		},
	}
}

func TestExporter_CSVGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExporter().Export(&buf, exportFixture(), domain.ExportCSV))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "checks_export", buf.Bytes())
}

func TestExporter_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExporter().Export(&buf, exportFixture(), domain.ExportJSON))

	var decoded []domain.DuplicationCheck
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, "chk-3", decoded[2].ID)
	require.NotNil(t, decoded[2].DelayUntil)

	buf.Reset()
	require.NoError(t, NewExporter().Export(&buf, nil, domain.ExportJSON))
	assert.Equal(t, "[]\n", buf.String())
}

func TestExporter_Excel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExporter().Export(&buf, exportFixture(), domain.ExportExcel))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{ExportSheet}, f.GetSheetList())
	rows, err := f.GetRows(ExportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, "chk-1", rows[1][0])
	assert.Equal(t, "blocked", rows[1][8])
}

func TestExporter_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, NewExporter().Export(&buf, exportFixture(), domain.ExportFormat("pdf")))
}

func TestExporter_ContentType(t *testing.T) {
	e := NewExporter()
	_, ext := e.ContentType(domain.ExportExcel)
	assert.Equal(t, "xlsx", ext)
	mime, _ := e.ContentType(domain.ExportCSV)
	assert.Equal(t, "text/csv", mime)
}
