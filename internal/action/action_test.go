package action

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/schedule"
)

func TestForCode(t *testing.T) {
	inst := &model.Instrument{SerialNumber: "MX6-0001", Sensors: []model.Sensor{{SerialNumber: "S-1"}}}
	s := &schedule.Schedule{Name: "bump", EventCode: model.BumpTest, ComponentCodes: []string{"S0020"}}

	a := ForCode(model.BumpTest, TriggerScheduled, s, inst)
	require.NotNil(t, a)
	require.Equal(t, KindInstrumentBumpTest, a.Kind)
	require.Equal(t, "MX6-0001", a.InstrumentSerial())
	require.Equal(t, []string{"S0020"}, a.ComponentCodes)
	require.True(t, a.IsGasOperation())
	require.NotEmpty(t, a.ID)

	inst.Sensors[0].SerialNumber = "changed"
	require.Equal(t, "S-1", a.Instrument.Sensors[0].SerialNumber)

	s.ComponentCodes[0] = "changed"
	require.Equal(t, "S0020", a.ComponentCodes[0])

	diag := ForCode(model.Diagnostics, TriggerForced, nil, inst)
	require.Nil(t, diag.Instrument)
	require.Empty(t, diag.InstrumentSerial())

	require.Nil(t, ForCode(model.EventCode{Code: "NOPE"}, TriggerForced, nil, nil))
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"reboot":                 KindReboot,
		" Instrument_Diagnostic": KindInstrumentDiagnostic,
		"bump_failure":           KindBumpFailure,
	} {
		got, ok := ParseKind(in)
		require.True(t, ok, in)
		require.Equal(t, want, got)
	}

	_, ok := ParseKind("launch")
	require.False(t, ok)
}

func TestKindForCode_CoversPriority(t *testing.T) {
	for _, code := range model.SchedulePriority {
		_, ok := KindForCode(code)
		require.True(t, ok, code.Code)
	}
}

func TestNothing(t *testing.T) {
	var nilAction *Action
	require.True(t, nilAction.IsNothing())
	require.Equal(t, "nothing", nilAction.String())
	require.True(t, Nothing().IsNothing())
	require.True(t, KindFactoryReset.Protected())
	require.False(t, KindInstrumentCalibration.Protected())

	a := New(KindTroubleshoot, TriggerManual).WithMessages("one").WithMessages("two")
	require.Equal(t, []string{"one", "two"}, a.Messages)
}

func TestEvents(t *testing.T) {
	a := ForCode(model.Calibration, TriggerScheduled, nil, &model.Instrument{SerialNumber: "MX6-0001"})

	ev := NewEvent(a)
	require.Equal(t, model.Calibration, ev.Code)
	require.Equal(t, "MX6-0001", ev.InstrumentSerialNumber)
	ev.Journals = model.Journals{{EventCode: "CAL", SerialNumber: "S-1"}}
	require.True(t, ev.HasJournal("CAL"))
	require.False(t, ev.HasJournal("BUMP"))

	var nilEvent *Event
	require.False(t, nilEvent.HasJournal("CAL"))

	fault := NewFaultEvent(a, &model.FlowError{Endpoint: "port 1", BadTubing: true})
	require.True(t, fault.Code.IsZero())
	require.Equal(t, FaultTubing, fault.Fault)
	require.Equal(t, "port 1", fault.FaultEndpoint)
	require.Equal(t, []string{"tubing fault on port 1"}, fault.Errors)
}
